package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app "github.com/roamly/discovery/internal/app"
	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/services/discovery"
)

type testEnv struct {
	app       *app.Application
	handler   http.Handler
	failNext  atomic.Bool
	generated atomic.Int32
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{}

	source := discovery.SourceFunc(func(_ context.Context, req discovery.SuggestionRequest) ([]domain.RawCandidate, error) {
		env.generated.Add(1)
		if env.failNext.Swap(false) {
			return nil, errors.New("model unavailable")
		}
		return []domain.RawCandidate{
			{Name: "Louvre", Rationale: "art"},
			{Name: "Eiffel Tower", Rationale: "views"},
			{Name: "Musee d'Orsay", Rationale: "impressionists"},
		}, nil
	})
	provider := discovery.ProviderFunc(func(_ context.Context, name, city string) (domain.Enrichment, error) {
		rating := 4.7
		return domain.Enrichment{
			Address:   name + ", " + city,
			Rating:    &rating,
			PhotoURLs: []string{"https://photos.example/" + strings.ReplaceAll(name, " ", "-") + ".jpg"},
		}, nil
	})

	application, err := app.New(app.Stores{}, app.Adapters{Source: source, Provider: provider},
		app.Options{Discovery: discovery.DefaultOptions()}, nil)
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	env.app = application
	env.handler = NewHandler(application, opts, nil)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(marshal(t, body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) start(t *testing.T) discovery.View {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/sessions", map[string]any{
		"trip_id":    "trip-1",
		"city":       "Paris",
		"kind":       "attractions",
		"trip_start": "2025-06-01",
		"trip_end":   "2025-06-10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var view discovery.View
	decode(t, rec, &view)
	return view
}

// waitValidated polls until the current item of session id is validated.
func (e *testEnv) waitValidated(t *testing.T, id string) discovery.View {
	t.Helper()
	var view discovery.View
	require.Eventually(t, func() bool {
		rec := e.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
		if rec.Code != http.StatusOK {
			return false
		}
		view = discovery.View{}
		if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
			return false
		}
		return view.Current != nil && view.Current.Status == domain.StatusValidated
	}, 2*time.Second, 10*time.Millisecond)
	return view
}

func marshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func TestHandlerSessionFlow(t *testing.T) {
	env := newTestEnv(t, Options{})
	view := env.start(t)
	assert.Equal(t, domain.SessionActive, view.State)
	assert.Equal(t, 3, view.Total)

	view = env.waitValidated(t, view.ID)
	assert.Equal(t, "Louvre", view.Current.Name)

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+view.ID+"/save", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved discovery.ActionResult
	decode(t, rec, &saved)
	require.NotNil(t, saved.Saved)
	assert.Equal(t, "Louvre", saved.Saved.Name)
	assert.Equal(t, "Louvre, Paris", saved.Saved.Address)
	assert.False(t, saved.Saved.Degraded)
	assert.Equal(t, 1, saved.Position)

	rec = env.do(t, http.MethodGet, "/v1/trips/trip-1/places?kind=attraction", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var places []domain.NormalizedItem
	decode(t, rec, &places)
	require.Len(t, places, 1)
	assert.Equal(t, "Louvre", places[0].Name)

	env.waitValidated(t, view.ID)
	rec = env.do(t, http.MethodPost, "/v1/sessions/"+view.ID+"/schedule", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+view.ID+"/skip", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+view.ID+"/schedule/confirm", map[string]string{
		"date": "2025-07-01",
		"time": "25:00",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var invalid errorBody
	decode(t, rec, &invalid)
	assert.Equal(t, "validation_failed", invalid.Error.Code)
	fields, ok := invalid.Error.Details["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "date")
	assert.Contains(t, fields, "time")

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+view.ID+"/schedule/confirm", map[string]string{
		"date":  "2025-06-02",
		"time":  "10:00",
		"notes": "book ahead",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &view)
	assert.Equal(t, 2, view.Position)
	assert.False(t, view.Negotiating)

	rec = env.do(t, http.MethodGet, "/v1/trips/trip-1/itinerary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []map[string]any
	decode(t, rec, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "Eiffel Tower", entries[0]["item_name"])
	assert.Equal(t, "2025-06-02", entries[0]["date"])

	rec = env.do(t, http.MethodGet, "/v1/sessions/"+view.ID+"/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []domain.Item
	decode(t, rec, &items)
	assert.Len(t, items, 3)

	rec = env.do(t, http.MethodGet, "/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []discovery.View
	decode(t, rec, &views)
	assert.Len(t, views, 1)

	rec = env.do(t, http.MethodDelete, "/v1/sessions/"+view.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/sessions/"+view.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerCancelSchedule(t *testing.T) {
	env := newTestEnv(t, Options{})
	view := env.waitValidated(t, env.start(t).ID)

	rec := env.do(t, http.MethodPost, "/v1/sessions/"+view.ID+"/schedule/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+view.ID+"/schedule", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/v1/sessions/"+view.ID+"/schedule/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &view)
	assert.Equal(t, 1, view.Position)
	assert.False(t, view.Negotiating)
}

func TestHandlerRequestErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"unknown kind", map[string]any{"trip_id": "t", "city": "Paris", "kind": "museums"}, http.StatusBadRequest},
		{"missing city", map[string]any{"trip_id": "t", "kind": "restaurant"}, http.StatusBadRequest},
		{"bad date", map[string]any{"trip_id": "t", "city": "Paris", "kind": "restaurant", "trip_start": "06/01/2025"}, http.StatusBadRequest},
		{"unknown field", map[string]any{"trip_id": "t", "city": "Paris", "kind": "restaurant", "budget": 3}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/sessions", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := env.do(t, http.MethodGet, "/v1/sessions/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, "not_found", body.Error.Code)
	assert.Contains(t, body.Error.Message, "missing")

	rec = env.do(t, http.MethodGet, "/v1/trips/trip-1/places?kind=hotels", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerGenerationFailureAndRetry(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.failNext.Store(true)

	rec := env.do(t, http.MethodPost, "/v1/sessions", map[string]any{
		"trip_id": "trip-1", "city": "Paris", "kind": "attraction",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	var body errorBody
	decode(t, rec, &body)
	assert.Equal(t, "upstream_failed", body.Error.Code)
	session, ok := body.Error.Details["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "failed", session["state"])
	id := session["id"].(string)

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/skip", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/retry", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var view discovery.View
	decode(t, rec, &view)
	assert.Equal(t, domain.SessionActive, view.State)
	assert.EqualValues(t, 2, env.generated.Load())

	rec = env.do(t, http.MethodPost, "/v1/sessions/"+id+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerAuth(t *testing.T) {
	const secret = "handler-secret"
	env := newTestEnv(t, Options{JWTSecret: secret})

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "traveller-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlerEventStream(t *testing.T) {
	env := newTestEnv(t, Options{})
	view := env.start(t)

	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/" + view.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first map[string]any
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first["type"])
	items, ok := first["items"].([]any)
	require.True(t, ok)
	assert.Len(t, items, 3)

	rec := env.do(t, http.MethodDelete, "/v1/sessions/"+view.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	sawClosed := false
	for {
		var evt map[string]any
		if err := conn.ReadJSON(&evt); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected read error: %v", err)
			break
		}
		if evt["type"] == string(discovery.EventClosed) {
			sawClosed = true
		}
	}
	assert.True(t, sawClosed)
}

func TestHandlerEventStreamUnknownSession(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(t, http.MethodGet, "/v1/sessions/nope/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
