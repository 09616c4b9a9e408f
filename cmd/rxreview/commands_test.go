package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/medcart/internal/notifications"
	"github.com/angelmondragon/medcart/internal/prescriptions"
	"github.com/angelmondragon/medcart/internal/session"
	"github.com/angelmondragon/medcart/pkg/db/models"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/logger"
)

type fixture struct {
	records prescriptions.Service
	notices *notifications.Service
	feed    *prescriptions.Feed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.Prescription{}, &models.Notification{}))

	logg := logger.Nop()
	notices, err := notifications.NewService(notifications.NewRepository(conn), logg)
	require.NoError(t, err)

	bus := prescriptions.NewBus()
	events, err := prescriptions.NewEventPublisher(bus, nil, "test", logg)
	require.NoError(t, err)

	repo := prescriptions.NewRepository(conn)
	records, err := prescriptions.NewService(prescriptions.ServiceParams{
		Repo:     repo,
		Notifier: notices,
		Events:   events,
		Logger:   logg,
	})
	require.NoError(t, err)
	feed, err := prescriptions.NewFeed(repo, bus, logg)
	require.NoError(t, err)

	return &fixture{records: records, notices: notices, feed: feed}
}

func (f *fixture) app(sess *session.Session) (*app, *bytes.Buffer) {
	var out bytes.Buffer
	return &app{out: &out, sess: sess, records: f.records, notices: f.notices, feed: f.feed}, &out
}

func (f *fixture) upload(t *testing.T, ownerID, fileName string) *models.Prescription {
	t.Helper()
	rec, err := f.records.Create(context.Background(), ownerID, prescriptions.CreateInput{
		ID:        uuid.New(),
		FileName:  fileName,
		FileSize:  2048,
		MediaType: "image/png",
		URL:       "https://storage.googleapis.com/rx/" + fileName,
	})
	require.NoError(t, err)
	return rec
}

var (
	patient = &session.Session{UserID: "patient-1", DisplayName: "Pat"}
	admin   = &session.Session{UserID: "admin-1", DisplayName: "Dr. Reyes", IsAdmin: true}
)

func TestReviewFlowNotifiesOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.upload(t, patient.UserID, "rx.png")

	owner, out := f.app(patient)
	require.NoError(t, owner.dispatch(ctx, "request-verification", []string{rec.ID.String()}))
	require.Contains(t, out.String(), "rx.png is now pending")

	reviewer, out := f.app(admin)
	require.NoError(t, reviewer.dispatch(ctx, "verify", []string{rec.ID.String(), "dose", "confirmed"}))
	require.Contains(t, out.String(), "rx.png is now verified")

	out.Reset()
	require.NoError(t, reviewer.dispatch(ctx, "show", []string{rec.ID.String()}))
	require.Contains(t, out.String(), "note:    dose confirmed")
	require.Contains(t, out.String(), "verified by Dr. Reyes: dose confirmed")

	owner, out = f.app(patient)
	require.NoError(t, owner.dispatch(ctx, "notifications", []string{"unread"}))
	require.Contains(t, out.String(), "Prescription verified")
	require.Contains(t, out.String(), prescriptions.RecordLink(rec.ID))

	out.Reset()
	require.NoError(t, owner.dispatch(ctx, "read", []string{"all"}))
	require.Contains(t, out.String(), "marked 1 notification(s) read")
}

func TestListScopesToSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.upload(t, patient.UserID, "mine.png")
	f.upload(t, "patient-2", "theirs.png")

	owner, out := f.app(patient)
	require.NoError(t, owner.dispatch(ctx, "list", nil))
	require.Contains(t, out.String(), "mine.png")
	require.NotContains(t, out.String(), "theirs.png")

	reviewer, out := f.app(admin)
	require.NoError(t, reviewer.dispatch(ctx, "list", nil))
	require.Contains(t, out.String(), "mine.png")
	require.Contains(t, out.String(), "theirs.png")
}

func TestNonAdminCannotReview(t *testing.T) {
	f := newFixture(t)
	rec := f.upload(t, patient.UserID, "rx.png")

	owner, _ := f.app(patient)
	err := owner.dispatch(context.Background(), "reject", []string{rec.ID.String()})
	require.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
}

func TestDispatchValidatesInput(t *testing.T) {
	f := newFixture(t)
	a, _ := f.app(patient)
	ctx := context.Background()

	cases := []struct {
		cmd  string
		args []string
	}{
		{"verify", nil},
		{"delete", []string{"not-a-uuid"}},
		{"read", nil},
		{"read", []string{"nope"}},
		{"frobnicate", nil},
	}
	for _, tc := range cases {
		err := a.dispatch(ctx, tc.cmd, tc.args)
		require.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err), "command %s %v", tc.cmd, tc.args)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.upload(t, patient.UserID, "rx.png")

	owner, out := f.app(patient)
	require.NoError(t, owner.dispatch(ctx, "delete", []string{rec.ID.String()}))
	require.Contains(t, out.String(), "deleted "+rec.ID.String())

	err := owner.dispatch(ctx, "show", []string{rec.ID.String()})
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestWatchStopsWithContext(t *testing.T) {
	f := newFixture(t)
	f.upload(t, patient.UserID, "rx.png")

	a, _ := f.app(patient)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.watch(ctx))
}
