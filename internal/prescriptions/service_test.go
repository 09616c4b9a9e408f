package prescriptions

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/medcart/internal/session"
	"github.com/angelmondragon/medcart/pkg/enums"
	pkgerrors "github.com/angelmondragon/medcart/pkg/errors"
	"github.com/angelmondragon/medcart/pkg/logger"
)

func newTestService(t *testing.T, notifier ownerNotifier) (Service, *Repository, *recordingPublisher) {
	t.Helper()
	repo := NewRepository(newTestDB(t))
	events := &recordingPublisher{}
	svc, err := NewService(ServiceParams{
		Repo:     repo,
		Notifier: notifier,
		Events:   events,
		Logger:   logger.Nop(),
		Now:      fixedNow,
	})
	require.NoError(t, err)
	return svc, repo, events
}

func TestReviewLifecycle(t *testing.T) {
	notifier := &stubNotifier{}
	svc, repo, events := newTestService(t, notifier)
	ctx := context.Background()

	owner := &session.Session{UserID: "owner-1"}
	admin := &session.Session{UserID: "admin-1", DisplayName: "Dr. Admin", IsAdmin: true}

	input := sampleInput("rx.png")
	created, err := svc.Create(ctx, owner.UserID, input)
	require.NoError(t, err)
	assert.Equal(t, input.ID, created.ID)
	assert.Equal(t, enums.PrescriptionStatusUploaded, created.Status)

	pending, err := svc.RequestVerification(ctx, owner, created.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PrescriptionStatusPending, pending.Status)

	reviewed, err := svc.Review(ctx, admin, created.ID, enums.PrescriptionStatusVerified, "  looks valid ")
	require.NoError(t, err)
	assert.Equal(t, enums.PrescriptionStatusVerified, reviewed.Status)

	stored, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PrescriptionStatusVerified, stored.Status)
	require.NotNil(t, stored.AdminNote)
	assert.Equal(t, "looks valid", *stored.AdminNote)
	require.Len(t, stored.AuditTrail, 1)
	entry := stored.AuditTrail[0]
	assert.Equal(t, "admin-1", entry.AdminID)
	assert.Equal(t, "Dr. Admin", entry.AdminName)
	assert.Equal(t, enums.AuditActionVerified, entry.Action)
	assert.Equal(t, "looks valid", entry.Note)
	assert.True(t, entry.At.Equal(fixedNow()))

	require.Len(t, notifier.notices, 1)
	assert.Equal(t, "owner-1", notifier.userIDs[0])
	assert.Equal(t, "Prescription verified", notifier.notices[0].Title)
	assert.Contains(t, notifier.notices[0].Message, "looks valid")
	require.NotNil(t, notifier.notices[0].Link)
	assert.Equal(t, "prescriptions/"+created.ID.String(), *notifier.notices[0].Link)

	assert.Equal(t, []string{
		string(enums.PrescriptionEventCreated),
		string(enums.PrescriptionEventStatusChanged),
		string(enums.PrescriptionEventStatusChanged),
	}, events.types())
}

func TestReviewRejectThenResubmit(t *testing.T) {
	svc, repo, _ := newTestService(t, &stubNotifier{})
	ctx := context.Background()
	owner := &session.Session{UserID: "owner-1"}
	admin := &session.Session{UserID: "admin-1", IsAdmin: true}

	rec, err := svc.Create(ctx, owner.UserID, sampleInput("scan.pdf"))
	require.NoError(t, err)

	_, err = svc.Review(ctx, admin, rec.ID, enums.PrescriptionStatusRejected, "blurry")
	require.NoError(t, err)
	_, err = svc.RequestVerification(ctx, owner, rec.ID)
	require.NoError(t, err)
	_, err = svc.Review(ctx, admin, rec.ID, enums.PrescriptionStatusVerified, "")
	require.NoError(t, err)

	stored, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, stored.AuditTrail, 2)
	assert.Equal(t, enums.AuditActionRejected, stored.AuditTrail[0].Action)
	assert.Equal(t, enums.AuditActionVerified, stored.AuditTrail[1].Action)
}

func TestReviewNotifyFailureIsSwallowed(t *testing.T) {
	svc, _, _ := newTestService(t, &stubNotifier{err: errors.New("notify down")})
	ctx := context.Background()

	rec, err := svc.Create(ctx, "owner", sampleInput("a.png"))
	require.NoError(t, err)
	reviewed, err := svc.Review(ctx, &session.Session{UserID: "adm", IsAdmin: true}, rec.ID, enums.PrescriptionStatusRejected, "expired")
	require.NoError(t, err)
	assert.Equal(t, enums.PrescriptionStatusRejected, reviewed.Status)
}

func TestReviewGuards(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "owner", sampleInput("a.png"))
	require.NoError(t, err)

	_, err = svc.Review(ctx, nil, rec.ID, enums.PrescriptionStatusVerified, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "got %v", err)

	_, err = svc.Review(ctx, &session.Session{UserID: "owner"}, rec.ID, enums.PrescriptionStatusVerified, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	admin := &session.Session{UserID: "adm", IsAdmin: true}
	_, err = svc.Review(ctx, admin, rec.ID, enums.PrescriptionStatusPending, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = svc.Review(ctx, admin, uuid.New(), enums.PrescriptionStatusVerified, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestRequestVerificationGuards(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	owner := &session.Session{UserID: "owner"}
	rec, err := svc.Create(ctx, owner.UserID, sampleInput("a.png"))
	require.NoError(t, err)

	_, err = svc.RequestVerification(ctx, &session.Session{UserID: "intruder"}, rec.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	_, err = svc.RequestVerification(ctx, owner, rec.ID)
	require.NoError(t, err)

	_, err = svc.RequestVerification(ctx, owner, rec.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, "", sampleInput("a.png"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	bad := sampleInput("a.png")
	bad.URL = "not a url"
	_, err = svc.Create(ctx, "owner", bad)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	dup := sampleInput("b.png")
	_, err = svc.Create(ctx, "owner", dup)
	require.NoError(t, err)
	_, err = svc.Create(ctx, "owner", dup)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestAttachText(t *testing.T) {
	svc, repo, events := newTestService(t, nil)
	ctx := context.Background()
	rec, err := svc.Create(ctx, "owner", sampleInput("a.png"))
	require.NoError(t, err)

	require.NoError(t, svc.AttachText(ctx, rec.ID, "Amoxicillin 500mg"))
	stored, err := repo.FindByID(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.OCRText)
	assert.Equal(t, "Amoxicillin 500mg", *stored.OCRText)
	assert.Equal(t, enums.PrescriptionStatusUploaded, stored.Status)
	assert.Contains(t, events.types(), string(enums.PrescriptionEventUpdated))

	err = svc.AttachText(ctx, uuid.New(), "x")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
}

func TestListDeleteAndGetScoping(t *testing.T) {
	svc, _, _ := newTestService(t, nil)
	ctx := context.Background()
	alice := &session.Session{UserID: "alice"}
	bob := &session.Session{UserID: "bob"}
	admin := &session.Session{UserID: "adm", IsAdmin: true}

	a1, err := svc.Create(ctx, alice.UserID, sampleInput("a1.png"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, alice.UserID, sampleInput("a2.png"))
	require.NoError(t, err)
	b1, err := svc.Create(ctx, bob.UserID, sampleInput("b1.png"))
	require.NoError(t, err)

	mine, err := svc.List(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = svc.List(ctx, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized), "got %v", err)

	_, err = svc.Get(ctx, bob, a1.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)
	got, err := svc.Get(ctx, admin, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1.png", got.FileName)

	err = svc.Delete(ctx, bob, a1.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)
	require.NoError(t, svc.Delete(ctx, alice, a1.ID))
	require.NoError(t, svc.Delete(ctx, admin, b1.ID))

	err = svc.Delete(ctx, alice, a1.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	all, err = svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
