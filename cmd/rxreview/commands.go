package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/medcart/internal/notifications"
	"github.com/angelmondragon/medcart/internal/prescriptions"
	"github.com/angelmondragon/medcart/internal/session"
	"github.com/angelmondragon/medcart/pkg/db/models"
	"github.com/angelmondragon/medcart/pkg/enums"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
)

const usage = `usage: rxreview [flags] COMMAND [ARGS]

commands:
  list                      list prescriptions (all of them for administrators)
  show ID                   print one prescription with its audit trail
  verify ID [NOTE]          mark a prescription verified
  reject ID [NOTE]          mark a prescription rejected
  request-verification ID   ask an administrator to review your prescription
  delete ID                 delete a prescription
  notifications [unread]    list your notifications
  read ID|all               mark notifications read
  watch                     print live prescription snapshots until interrupted
  issue-session             create a session token (see -user, -name, -email, -admin)
`

// app executes review commands on behalf of one signed-in session.
type app struct {
	out     io.Writer
	sess    *session.Session
	records prescriptions.Service
	notices *notifications.Service
	feed    *prescriptions.Feed
}

func (a *app) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "list":
		return a.list(ctx)
	case "show":
		return a.withID(args, func(id uuid.UUID) error { return a.show(ctx, id) })
	case "verify":
		return a.withID(args, func(id uuid.UUID) error {
			return a.review(ctx, id, enums.PrescriptionStatusVerified, noteFrom(args))
		})
	case "reject":
		return a.withID(args, func(id uuid.UUID) error {
			return a.review(ctx, id, enums.PrescriptionStatusRejected, noteFrom(args))
		})
	case "request-verification":
		return a.withID(args, func(id uuid.UUID) error {
			rec, err := a.records.RequestVerification(ctx, a.sess, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s is now %s\n", rec.FileName, rec.Status)
			return nil
		})
	case "delete":
		return a.withID(args, func(id uuid.UUID) error {
			if err := a.records.Delete(ctx, a.sess, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %s\n", id)
			return nil
		})
	case "notifications":
		return a.listNotifications(ctx, len(args) > 0 && args[0] == "unread")
	case "read":
		return a.markRead(ctx, args)
	case "watch":
		return a.watch(ctx)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown command %q", cmd))
	}
}

func (a *app) withID(args []string, fn func(uuid.UUID) error) error {
	if len(args) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "prescription id required")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid prescription id")
	}
	return fn(id)
}

func noteFrom(args []string) string {
	if len(args) < 2 {
		return ""
	}
	return strings.Join(args[1:], " ")
}

func (a *app) list(ctx context.Context) error {
	recs, err := a.records.List(ctx, a.sess)
	if err != nil {
		return err
	}
	writeRecords(a.out, recs)
	return nil
}

func writeRecords(out io.Writer, recs []models.Prescription) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tOWNER\tFILE\tUPLOADED")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.OwnerID, r.FileName, r.CreatedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func (a *app) show(ctx context.Context, id uuid.UUID) error {
	rec, err := a.records.Get(ctx, a.sess, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "id:      %s\nowner:   %s\nfile:    %s (%s, %d bytes)\nstatus:  %s\nurl:     %s\n",
		rec.ID, rec.OwnerID, rec.FileName, rec.MediaType, rec.FileSize, rec.Status, rec.URL)
	if rec.AdminNote != nil {
		fmt.Fprintf(a.out, "note:    %s\n", *rec.AdminNote)
	}
	if rec.OCRText != nil {
		fmt.Fprintf(a.out, "text:\n%s\n", *rec.OCRText)
	}
	for _, entry := range rec.AuditTrail {
		line := fmt.Sprintf("audit:   %s %s by %s", entry.At.Format(time.RFC3339), entry.Action, entry.AdminName)
		if entry.Note != "" {
			line += ": " + entry.Note
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func (a *app) review(ctx context.Context, id uuid.UUID, decision enums.PrescriptionStatus, note string) error {
	rec, err := a.records.Review(ctx, a.sess, id, decision, note)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s is now %s\n", rec.FileName, rec.Status)
	return nil
}

func (a *app) listNotifications(ctx context.Context, unreadOnly bool) error {
	rows, err := a.notices.List(ctx, a.sess.UserID, unreadOnly)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREAD\tTITLE\tMESSAGE\tLINK")
	for _, n := range rows {
		read, link := "no", "-"
		if n.ReadAt != nil {
			read = "yes"
		}
		if n.Link != nil {
			link = *n.Link
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", n.ID, read, n.Title, n.Message, link)
	}
	return tw.Flush()
}

func (a *app) markRead(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id or \"all\" required")
	}
	if args[0] == "all" {
		n, err := a.notices.MarkAllRead(ctx, a.sess.UserID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "marked %d notification(s) read\n", n)
		return nil
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification id")
	}
	return a.notices.MarkRead(ctx, a.sess.UserID, id)
}

// watch prints every snapshot until ctx ends or the subscription fails.
func (a *app) watch(ctx context.Context) error {
	failed := make(chan error, 1)
	onSnapshot := func(recs []models.Prescription) {
		fmt.Fprintf(a.out, "-- %s: %d prescription(s)\n", time.Now().Format(time.TimeOnly), len(recs))
		writeRecords(a.out, recs)
	}
	onError := func(err error) { failed <- err }

	var (
		sub *prescriptions.Subscription
		err error
	)
	if a.sess.IsAdmin {
		sub, err = a.feed.SubscribeAll(ctx, onSnapshot, onError)
	} else {
		sub, err = a.feed.SubscribeByOwner(ctx, a.sess.UserID, onSnapshot, onError)
	}
	if err != nil {
		return err
	}
	defer sub.Close()

	select {
	case <-ctx.Done():
		return nil
	case err := <-failed:
		return err
	}
}
