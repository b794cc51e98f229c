package bsdd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wastetrack/wastetrack/internal/bsd"
	"github.com/wastetrack/wastetrack/internal/shared"
)

func sentFixture(t *testing.T, svc *Service) Form {
	t.Helper()
	ctx := context.Background()
	f, err := svc.Create(ctx, "user-1", baseInput())
	require.NoError(t, err)
	_, err = svc.MarkAsSealed(ctx, "user-1", f.ID)
	require.NoError(t, err)
	f, err = svc.MarkAsSent(ctx, "user-1", f.ID, SignatureInput{Author: "Bob"})
	require.NoError(t, err)
	return f
}

func segmentInput() SegmentInput {
	return SegmentInput{
		Mode:                      "RAIL",
		TransporterCompanySiret:   nextCarrierSiret,
		TransporterCompanyName:    "Fret SNCF",
		TransporterCompanyAddress: "1 rue du Rail",
		TransporterCompanyContact: "Gare Contact",
		TransporterCompanyPhone:   "0102030405",
		TransporterCompanyMail:    "fret@example.org",
		TransporterReceipt:        "R-123",
	}
}

func TestSegmentHandOver(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, allMembers())
	ctx := context.Background()

	f := sentFixture(t, svc)

	seg, err := svc.PrepareSegment(ctx, "user-1", f.ID, segmentInput())
	require.NoError(t, err)
	require.Equal(t, 1, seg.SegmentNumber)
	require.Equal(t, transporterSiret, seg.PreviousTransporterSiret)
	require.Equal(t, nextCarrierSiret, repo.get(f.ID).NextTransporterSiret)

	// not ready yet
	_, err = svc.TakeOverSegment(ctx, "user-1", f.ID, seg.ID, TakeOverInput{
		TakenOverAt: time.Now(), TakenOverBy: "Next Driver",
	})
	require.ErrorIs(t, err, shared.ErrConflict)

	seg, err = svc.MarkSegmentAsReadyToTakeOver(ctx, "user-1", f.ID, seg.ID)
	require.NoError(t, err)
	require.True(t, seg.ReadyToTakeOver)

	seg, err = svc.TakeOverSegment(ctx, "user-1", f.ID, seg.ID, TakeOverInput{
		TakenOverAt: time.Now(), TakenOverBy: "Next Driver",
	})
	require.NoError(t, err)
	require.False(t, seg.TakenOverAt.IsZero())

	updated := repo.get(f.ID)
	require.Equal(t, nextCarrierSiret, updated.CurrentTransporterSiret)
	require.Empty(t, updated.NextTransporterSiret)
}

func TestSegmentReadyValidationAggregates(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, allMembers())
	ctx := context.Background()

	f := sentFixture(t, svc)

	in := segmentInput()
	in.TransporterCompanyName = ""
	in.TransporterCompanyAddress = ""
	in.TransporterCompanyPhone = ""
	in.TransporterCompanyMail = ""
	in.TransporterReceipt = ""
	seg, err := svc.PrepareSegment(ctx, "user-1", f.ID, in)
	require.NoError(t, err, "an incomplete segment can be prepared")

	_, err = svc.MarkSegmentAsReadyToTakeOver(ctx, "user-1", f.ID, seg.ID)
	var ve *shared.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Messages, 5)
}

func TestSegmentPreparedOnDraftByOwner(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, allMembers())
	ctx := context.Background()

	f, err := svc.Create(ctx, "user-1", baseInput())
	require.NoError(t, err)

	_, err = svc.PrepareSegment(ctx, "user-2", f.ID, segmentInput())
	require.ErrorIs(t, err, shared.ErrForbidden, "only the owner plans segments on a draft")

	seg, err := svc.PrepareSegment(ctx, "user-1", f.ID, segmentInput())
	require.NoError(t, err)
	require.Equal(t, transporterSiret, seg.PreviousTransporterSiret,
		"before any hand-over the planned leg starts at the form transporter")
}

func TestSegmentNotPreparableOnceSealed(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, allMembers())
	ctx := context.Background()

	f, err := svc.Create(ctx, "user-1", baseInput())
	require.NoError(t, err)
	_, err = svc.MarkAsSealed(ctx, "user-1", f.ID)
	require.NoError(t, err)

	_, err = svc.PrepareSegment(ctx, "user-1", f.ID, segmentInput())
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestSecondSegmentWaitsForHandOver(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, allMembers())
	ctx := context.Background()

	f := sentFixture(t, svc)

	seg, err := svc.PrepareSegment(ctx, "user-1", f.ID, segmentInput())
	require.NoError(t, err)

	_, err = svc.PrepareSegment(ctx, "user-1", f.ID, segmentInput())
	require.ErrorIs(t, err, shared.ErrConflict, "one unconsumed segment at a time")

	_, err = svc.MarkSegmentAsReadyToTakeOver(ctx, "user-1", f.ID, seg.ID)
	require.NoError(t, err)
	_, err = svc.TakeOverSegment(ctx, "user-1", f.ID, seg.ID, TakeOverInput{
		TakenOverAt: time.Now(), TakenOverBy: "Next Driver",
	})
	require.NoError(t, err)

	second, err := svc.PrepareSegment(ctx, "user-1", f.ID, segmentInput())
	require.NoError(t, err, "a consumed segment no longer blocks the chain")
	require.Equal(t, 2, second.SegmentNumber)
}

func TestReceptionDropsStaleSegments(t *testing.T) {
	repo := newFakeRepo()
	svc, _ := newTestService(repo, allMembers())
	ctx := context.Background()

	f := sentFixture(t, svc)

	taken, err := svc.PrepareSegment(ctx, "user-1", f.ID, segmentInput())
	require.NoError(t, err)
	_, err = svc.MarkSegmentAsReadyToTakeOver(ctx, "user-1", f.ID, taken.ID)
	require.NoError(t, err)
	_, err = svc.TakeOverSegment(ctx, "user-1", f.ID, taken.ID, TakeOverInput{
		TakenOverAt: time.Now(), TakenOverBy: "Next Driver",
	})
	require.NoError(t, err)

	stale, err := svc.PrepareSegment(ctx, "user-1", f.ID, segmentInput())
	require.NoError(t, err)

	f, err = svc.MarkAsReceived(ctx, "user-1", f.ID, ReceptionInput{
		Signature: SignatureInput{Author: "Eve"}, ReceivedAt: time.Now(),
		QuantityReceived: 1, Acceptation: bsd.AcceptationAccepted,
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(f.Segments))
	for _, seg := range f.Segments {
		ids = append(ids, seg.ID)
	}
	require.Contains(t, ids, taken.ID, "segments already taken over stay on the form")
	require.NotContains(t, ids, stale.ID, "segments never taken over are dropped at reception")
}
