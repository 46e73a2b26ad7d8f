package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/domain/itinerary"
	"github.com/roamly/discovery/internal/app/storage/memory"
)

type schedulerFunc func(ctx context.Context, tripID string, req itinerary.ScheduleRequest) error

func (f schedulerFunc) ScheduleItem(ctx context.Context, tripID string, req itinerary.ScheduleRequest) error {
	return f(ctx, tripID, req)
}

func staticSource(names ...string) SourceFunc {
	return func(context.Context, SuggestionRequest) ([]domain.RawCandidate, error) {
		return candidates(names...), nil
	}
}

func day(s string) *time.Time {
	t, err := time.Parse(itinerary.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func newTestService(t *testing.T, source SuggestionSource, provider ValidationProvider, store *memory.Store, window int) *Service {
	t.Helper()
	opts := DefaultOptions()
	opts.Window = window
	svc := New(source, provider, store, store, opts, nil)
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })
	return svc
}

func parisRequest() StartRequest {
	return StartRequest{
		TripID:    "trip-paris",
		City:      "Paris",
		Kind:      domain.KindAttraction,
		TripStart: day("2025-06-01"),
		TripEnd:   day("2025-06-10"),
	}
}

func TestService_ParisScenario(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	provider := newFakeProvider()
	provider.gate("Louvre", "Sainte-Chapelle", "Luxembourg Gardens")
	provider.fail("Sainte-Chapelle", errNotFound)
	svc := newTestService(t, staticSource("Louvre", "Sainte-Chapelle", "Luxembourg Gardens"), provider, store, 2)

	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.State())
	assert.Equal(t, []domain.Status{domain.StatusValidating, domain.StatusValidating, domain.StatusValidating}, statuses(sess.Queue()))

	provider.release("Louvre")
	provider.release("Sainte-Chapelle")
	provider.release("Luxembourg Gardens")
	svc.Prefetcher().Wait()

	// Louvre is schedulable; cancelling the negotiation moves on.
	n, err := svc.Schedule(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Louvre", n.Item.Name)
	_, err = svc.Skip(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrNegotiationOpen)
	require.NoError(t, svc.CancelSchedule(sess.ID))
	assert.ErrorIs(t, n.Cancel(), ErrNegotiationClosed)
	assert.Equal(t, 1, sess.Queue().Position())

	// Sainte-Chapelle failed validation: saved by name only, never scheduled.
	_, err = svc.Schedule(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrScheduleUnavailable)
	res, err := svc.Save(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Saved)
	assert.True(t, res.Saved.Degraded)
	assert.Empty(t, res.Saved.Address)
	assert.Equal(t, 2, res.Position)

	// Luxembourg Gardens is scheduled inside the trip.
	_, err = svc.Schedule(ctx, sess.ID)
	require.NoError(t, err)
	err = svc.ConfirmSchedule(ctx, sess.ID, ScheduleInput{Date: "2025-06-05", Time: "14:30", Notes: "picnic"})
	require.NoError(t, err)

	assert.Equal(t, domain.SessionFinished, sess.State())
	_, err = svc.Skip(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrQueueExhausted)

	entries, err := store.ListEntries(ctx, "trip-paris")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "Luxembourg Gardens", entry.ItemName)
	assert.Equal(t, itinerary.ItemAttraction, entry.ItemType)
	require.NotNil(t, entry.Address)
	assert.Equal(t, "Luxembourg Gardens, Paris", *entry.Address)
	require.NotNil(t, entry.Image)
	require.NotNil(t, entry.Notes)
	assert.Equal(t, "picnic", *entry.Notes)

	saved, err := store.ListPlaceNames(ctx, "trip-paris", domain.KindAttraction)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sainte-Chapelle"}, saved)
}

func TestService_SkipTwiceSlidesWindow(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	names := []string{"a", "b", "c", "d", "e"}
	provider.gate(names...)
	svc := newTestService(t, staticSource(names...), provider, memory.New(), 2)

	req := parisRequest()
	sess, err := svc.StartSession(ctx, req)
	require.NoError(t, err)

	_, err = svc.Skip(ctx, sess.ID)
	require.NoError(t, err)
	res, err := svc.Skip(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Position)

	st := statuses(sess.Queue())
	assert.Contains(t, []domain.Status{domain.StatusValidating, domain.StatusValidated}, st[4])

	for _, n := range names {
		provider.release(n)
	}
	svc.Prefetcher().Wait()

	items := sess.Queue().Items()
	assert.True(t, items[0].Status.IsTerminal())
	assert.True(t, items[1].Status.IsTerminal())
	assert.Len(t, provider.Calls(), 5)
}

func TestService_SaveDuplicateAdvancesWithoutAppending(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	provider := newFakeProvider()
	svc := newTestService(t, staticSource("eiffel tower", "Louvre"), provider, store, 1)

	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)
	svc.Prefetcher().Wait()

	// Saved elsewhere after the session generated its queue.
	_, err = store.AppendPlace(ctx, domain.NormalizedItem{TripID: "trip-paris", Kind: domain.KindAttraction, Name: "Eiffel Tower"})
	require.NoError(t, err)

	res, err := svc.Save(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Nil(t, res.Saved)
	assert.Equal(t, 1, res.Position)

	names, err := store.ListPlaceNames(ctx, "trip-paris", domain.KindAttraction)
	require.NoError(t, err)
	assert.Equal(t, []string{"Eiffel Tower"}, names)
}

func TestService_SourceRationaleSurvivesValidationAndSave(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	provider := ProviderFunc(func(_ context.Context, name, city string) (domain.Enrichment, error) {
		return domain.Enrichment{
			Address:   name + ", " + city,
			Rationale: "provider editorial summary",
			Summary:   "provider editorial summary",
		}, nil
	})
	svc := newTestService(t, staticSource("Louvre"), provider, store, 1)

	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)
	svc.Prefetcher().Wait()

	item, err := sess.Queue().Item(0)
	require.NoError(t, err)
	require.NotNil(t, item.Enriched)
	assert.Equal(t, "worth a visit", item.Enriched.Rationale)
	assert.Equal(t, "provider editorial summary", item.Enriched.Summary)

	res, err := svc.Save(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Saved)
	assert.Equal(t, "worth a visit", res.Saved.Description)
}

func TestService_SaveBeforeValidationFinishes(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.gate("Louvre")
	svc := newTestService(t, staticSource("Louvre"), provider, memory.New(), 0)

	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)

	_, err = svc.Save(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrItemNotReady)
	assert.Equal(t, 0, sess.Queue().Position())

	provider.release("Louvre")
	svc.Prefetcher().Wait()

	res, err := svc.Save(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Saved)
	assert.False(t, res.Saved.Degraded)
	assert.Equal(t, "Louvre, Paris", res.Saved.Address)
	assert.Equal(t, "worth a visit", res.Saved.Description)
	assert.True(t, res.Finished)
}

func TestService_GenerationExcludesSavedNames(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	_, err := store.AppendPlace(ctx, domain.NormalizedItem{TripID: "trip-paris", Kind: domain.KindAttraction, Name: "Louvre"})
	require.NoError(t, err)

	var got SuggestionRequest
	source := SourceFunc(func(_ context.Context, req SuggestionRequest) ([]domain.RawCandidate, error) {
		got = req
		return candidates("LOUVRE", "Pantheon", "pantheon", " "), nil
	})
	svc := newTestService(t, source, newFakeProvider(), store, 2)

	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"Louvre"}, got.ExcludeNames)
	assert.Equal(t, "Paris", got.City)

	items := sess.Queue().Items()
	require.Len(t, items, 1)
	assert.Equal(t, "Pantheon", items[0].Name)
}

func TestService_GenerationFailureAndRetry(t *testing.T) {
	ctx := context.Background()
	attempts := 0
	source := SourceFunc(func(context.Context, SuggestionRequest) ([]domain.RawCandidate, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("model timeout")
		}
		return candidates("Louvre"), nil
	})
	svc := newTestService(t, source, newFakeProvider(), memory.New(), 2)

	sess, err := svc.StartSession(ctx, parisRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	require.NotNil(t, sess)
	assert.Equal(t, domain.SessionFailed, sess.State())
	assert.ErrorIs(t, sess.Err(), ErrGenerationFailed)
	assert.Equal(t, "suggestion generation failed: model timeout", sess.View().Error)

	_, err = svc.Skip(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotActive)

	_, err = svc.Retry(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.State())
	assert.Equal(t, 1, sess.View().Total)

	_, err = svc.Retry(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotActive)
}

func TestService_EmptyGenerationFails(t *testing.T) {
	svc := newTestService(t, staticSource(), newFakeProvider(), memory.New(), 2)

	sess, err := svc.StartSession(context.Background(), parisRequest())
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, domain.SessionFailed, sess.State())
	assert.Len(t, svc.Sessions(), 1)
}

func TestService_StartValidatesRequest(t *testing.T) {
	svc := newTestService(t, staticSource("a"), newFakeProvider(), memory.New(), 2)

	_, err := svc.StartSession(context.Background(), StartRequest{TripID: "t", Kind: domain.KindRestaurant})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.StartSession(context.Background(), StartRequest{TripID: "t", City: "Rome", Kind: "museum"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, svc.Sessions())
}

func TestService_CloseCancelsSession(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	provider.gate("Louvre")
	svc := newTestService(t, staticSource("Louvre"), provider, memory.New(), 0)

	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)
	require.NoError(t, svc.Close(sess.ID))
	svc.Prefetcher().Wait()

	assert.Equal(t, domain.SessionClosed, sess.State())
	assert.ErrorIs(t, svc.Close(sess.ID), ErrSessionNotFound)
	_, err = svc.Skip(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	item, err := sess.Queue().Item(0)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusValidating, item.Status)
}

func TestService_ConfirmSucceedsWhenSessionClosesDuringCommit(t *testing.T) {
	ctx := context.Background()
	var svc *Service
	var sessionID string
	committed := 0
	scheduler := schedulerFunc(func(context.Context, string, itinerary.ScheduleRequest) error {
		committed++
		require.NoError(t, svc.Close(sessionID))
		return nil
	})
	svc = New(staticSource("Louvre", "Orsay"), newFakeProvider(), memory.New(), scheduler, DefaultOptions(), nil)
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)
	sessionID = sess.ID
	svc.Prefetcher().Wait()

	n, err := svc.Schedule(ctx, sess.ID)
	require.NoError(t, err)

	require.NoError(t, n.Confirm(ctx, ScheduleInput{Date: "2025-06-05", Time: "10:00"}))
	assert.Equal(t, 1, committed)
	assert.True(t, n.Closed())
	assert.ErrorIs(t, n.Confirm(ctx, ScheduleInput{Date: "2025-06-05", Time: "10:00"}), ErrNegotiationClosed)
	assert.Equal(t, 1, committed)
}

func TestService_ConfirmRejectionKeepsNegotiationOpen(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	calls := 0
	scheduler := schedulerFunc(func(context.Context, string, itinerary.ScheduleRequest) error {
		calls++
		if calls == 1 {
			return errors.New("itinerary offline")
		}
		return nil
	})
	opts := DefaultOptions()
	svc := New(staticSource("Louvre", "Orsay"), newFakeProvider(), store, scheduler, opts, nil)
	t.Cleanup(func() { _ = svc.Stop(context.Background()) })

	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)
	svc.Prefetcher().Wait()

	_, err = svc.Schedule(ctx, sess.ID)
	require.NoError(t, err)

	err = svc.ConfirmSchedule(ctx, sess.ID, ScheduleInput{Date: "2025-05-30", Time: "25:00"})
	var fields FieldErrors
	require.ErrorAs(t, err, &fields)
	assert.Contains(t, fields, "date")
	assert.Contains(t, fields, "time")
	assert.Equal(t, 0, calls)

	err = svc.ConfirmSchedule(ctx, sess.ID, ScheduleInput{Date: "2025-06-02", Time: "09:00"})
	assert.ErrorIs(t, err, ErrScheduleRejected)
	assert.Equal(t, 0, sess.Queue().Position())
	assert.True(t, sess.View().Negotiating)

	require.NoError(t, svc.ConfirmSchedule(ctx, sess.ID, ScheduleInput{Date: "2025-06-02", Time: "09:00"}))
	assert.Equal(t, 1, sess.Queue().Position())
	assert.ErrorIs(t, svc.CancelSchedule(sess.ID), ErrNoNegotiation)
}

func TestService_SweepClosesIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestService(t, staticSource("Louvre", "Orsay"), newFakeProvider(), memory.New(), 0)
	svc.WithClock(func() time.Time { return now })

	idle, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	busy, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	swept := svc.Sweep()
	assert.Equal(t, []string{idle.ID}, swept)

	_, err = svc.Get(idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.Get(busy.ID)
	assert.NoError(t, err)
}

func TestService_StartStopLifecycle(t *testing.T) {
	svc := New(staticSource("Louvre"), newFakeProvider(), memory.New(), memory.New(), DefaultOptions(), nil)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Start(ctx))

	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)

	require.NoError(t, svc.Stop(ctx))
	assert.Equal(t, domain.SessionClosed, sess.State())
	assert.Empty(t, svc.Sessions())
	require.NoError(t, svc.Stop(ctx))
}

func TestService_StartSessionAfterStopFails(t *testing.T) {
	provider := newFakeProvider()
	svc := New(staticSource("Louvre"), provider, memory.New(), memory.New(), DefaultOptions(), nil)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx))
	require.NoError(t, svc.Stop(ctx))

	_, err := svc.StartSession(ctx, parisRequest())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Empty(t, svc.Sessions())
	assert.Empty(t, provider.Calls())

	require.NoError(t, svc.Start(ctx))
	sess, err := svc.StartSession(ctx, parisRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.SessionActive, sess.State())
	require.NoError(t, svc.Stop(ctx))
}
