package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
)

type failingRepo struct{ err error }

func (r failingRepo) ListPlaceNames(context.Context, string, domain.Kind) ([]string, error) {
	return nil, r.err
}

func (r failingRepo) AppendPlace(context.Context, domain.NormalizedItem) (domain.NormalizedItem, error) {
	return domain.NormalizedItem{}, r.err
}

func TestNormalize(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	rating := 4.7
	price := 2
	validated := domain.Item{
		Name:      " Septime ",
		Kind:      domain.KindRestaurant,
		Category:  "bistronomy",
		Rationale: "tasting menu",
		Status:    domain.StatusValidated,
		Enriched: &domain.Enrichment{
			Address:   "80 Rue de Charonne",
			PhotoURLs: []string{"a.jpg"},
			Rating:    &rating,
			PriceTier: &price,
		},
	}

	rec := Normalize("trip", validated, now)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "Septime", rec.Name)
	assert.Equal(t, "tasting menu", rec.Description)
	assert.Equal(t, "a.jpg", rec.Image)
	assert.Equal(t, &price, rec.Price)
	assert.False(t, rec.Degraded)
	assert.Equal(t, now, rec.CreatedAt)

	failed := domain.Item{Name: "Ghost Bar", Kind: domain.KindRestaurant, Category: "bar", Status: domain.StatusError, ErrorMessage: "not found"}
	rec = Normalize("trip", failed, now)
	assert.True(t, rec.Degraded)
	assert.Equal(t, "bar", rec.Category)
	assert.Nil(t, rec.Rating)
	assert.Empty(t, rec.Image)
	assert.Empty(t, rec.Address)
}

func TestRouter_RepositoryFailureDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	provider := newFakeProvider()
	prefetch := NewPrefetcher(provider, nil)
	router := NewRouter(failingRepo{err: errors.New("db down")}, NewNegotiator(nil, nil), nil)

	sess := newSession("s", StartRequest{TripID: "t", City: "Lyon", Kind: domain.KindRestaurant}, 1, time.Now())
	q := NewQueue(sess.ctx, QueueConfig{SessionID: "s", Window: 1}, candidates("a", "b"), prefetch)
	require.True(t, sess.activate(q))
	defer sess.close()
	prefetch.Wait()

	_, err := router.Save(ctx, sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Equal(t, 0, q.Position())

	// Without an itinerary there is nothing to negotiate.
	_, err = router.Schedule(ctx, sess)
	assert.ErrorIs(t, err, ErrScheduleUnavailable)

	res, err := router.Skip(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, "a", res.Item.Name)
	assert.Equal(t, 1, res.Position)
	assert.False(t, res.Finished)
}

func TestRouter_RejectsActionsOnGeneratingSession(t *testing.T) {
	router := NewRouter(nil, nil, nil)
	sess := newSession("s", StartRequest{TripID: "t", City: "Lyon", Kind: domain.KindAttraction}, 1, time.Now())

	_, err := router.Skip(context.Background(), sess)
	assert.ErrorIs(t, err, ErrSessionBusy)

	sess.fail(ErrGenerationFailed)
	_, err = router.Save(context.Background(), sess)
	assert.ErrorIs(t, err, ErrSessionNotActive)

	sess.close()
	_, err = router.Schedule(context.Background(), sess)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
