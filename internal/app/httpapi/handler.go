package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	app "github.com/roamly/discovery/internal/app"
	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/domain/itinerary"
	"github.com/roamly/discovery/internal/app/metrics"
	"github.com/roamly/discovery/internal/app/services/discovery"
	apperrors "github.com/roamly/discovery/internal/errors"
	"github.com/roamly/discovery/internal/middleware"
	"github.com/roamly/discovery/pkg/logger"
)

// Options configures the outer HTTP surface.
type Options struct {
	// JWTSecret enables HS256 bearer authentication when set.
	JWTSecret      string
	RateLimitRPS   int
	RateLimitBurst int
	AllowedOrigins []string
}

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app      *app.Application
	log      *logger.Logger
	upgrader websocket.Upgrader
}

// NewHandler returns the router exposing the discovery REST API.
func NewHandler(application *app.Application, opts Options, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log, upgrader: newUpgrader(opts.AllowedOrigins)}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/sessions", h.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions", h.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.closeSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/items", h.listItems).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/retry", h.retry).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/skip", h.skip).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/save", h.save).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/schedule", h.schedule).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/schedule/confirm", h.confirmSchedule).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/schedule/cancel", h.cancelSchedule).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/events", h.events).Methods(http.MethodGet)
	api.HandleFunc("/trips/{trip}/places", h.listPlaces).Methods(http.MethodGet)
	api.HandleFunc("/trips/{trip}/itinerary", h.listItinerary).Methods(http.MethodGet)

	r.Use(middleware.LoggingMiddleware(log.Named("http")))
	if strings.TrimSpace(opts.JWTSecret) != "" {
		auth := middleware.NewAuthMiddleware(opts.JWTSecret, log.Named("auth"), []string{"/healthz", "/metrics"})
		r.Use(auth.Handler)
	}
	if opts.RateLimitRPS > 0 {
		r.Use(middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst, log.Named("ratelimit")).Handler)
	}

	var out http.Handler = r
	if len(opts.AllowedOrigins) > 0 {
		out = middleware.NewCORSMiddleware(opts.AllowedOrigins).Handler(out)
	}
	return metrics.InstrumentHandler(out)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(h.app.Discovery.Sessions()),
	})
}

type startPayload struct {
	TripID    string `json:"trip_id"`
	City      string `json:"city"`
	Region    string `json:"region"`
	Kind      string `json:"kind"`
	TripStart string `json:"trip_start"`
	TripEnd   string `json:"trip_end"`
	Window    *int   `json:"window"`
}

func (p startPayload) request() (discovery.StartRequest, error) {
	kind, err := domain.ParseKind(strings.ToLower(strings.TrimSpace(p.Kind)))
	if err != nil {
		return discovery.StartRequest{}, fmt.Errorf("%w: %v", discovery.ErrInvalidRequest, err)
	}
	req := discovery.StartRequest{
		TripID: p.TripID,
		City:   p.City,
		Region: p.Region,
		Kind:   kind,
		Window: p.Window,
	}
	if req.TripStart, err = parseDate("trip_start", p.TripStart); err != nil {
		return discovery.StartRequest{}, err
	}
	if req.TripEnd, err = parseDate("trip_end", p.TripEnd); err != nil {
		return discovery.StartRequest{}, err
	}
	return req, nil
}

func parseDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(itinerary.DateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be formatted YYYY-MM-DD", discovery.ErrInvalidRequest, field)
	}
	return &t, nil
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	var payload startPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, apperrors.BadRequest(err.Error()))
		return
	}
	req, err := payload.request()
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.app.Discovery.StartSession(r.Context(), req)
	if err != nil {
		if sess == nil {
			writeError(w, err)
			return
		}
		// The failed session stays registered so the client can retry it.
		svcErr := toServiceError(err).WithDetails("session", sess.View())
		writeError(w, svcErr)
		return
	}
	writeJSON(w, http.StatusCreated, sess.View())
}

func (h *handler) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.app.Discovery.Sessions())
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *handler) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Discovery.Close(sessionID(r)); err != nil {
		writeError(w, withID(err, sessionID(r)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listItems(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := sess.Queue()
	if q == nil {
		writeJSON(w, http.StatusOK, []domain.Item{})
		return
	}
	writeJSON(w, http.StatusOK, q.Items())
}

func (h *handler) retry(w http.ResponseWriter, r *http.Request) {
	sess, err := h.app.Discovery.Retry(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, withID(err, sessionID(r)))
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *handler) skip(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Discovery.Skip(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, withID(err, sessionID(r)))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) save(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Discovery.Save(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, withID(err, sessionID(r)))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) schedule(w http.ResponseWriter, r *http.Request) {
	n, err := h.app.Discovery.Schedule(r.Context(), sessionID(r))
	if err != nil {
		writeError(w, withID(err, sessionID(r)))
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (h *handler) confirmSchedule(w http.ResponseWriter, r *http.Request) {
	var in discovery.ScheduleInput
	if err := decodeJSON(r.Body, &in); err != nil {
		writeError(w, apperrors.BadRequest(err.Error()))
		return
	}
	if err := h.app.Discovery.ConfirmSchedule(r.Context(), sessionID(r), in); err != nil {
		writeError(w, withID(err, sessionID(r)))
		return
	}
	h.writeView(w, r)
}

func (h *handler) cancelSchedule(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Discovery.CancelSchedule(sessionID(r)); err != nil {
		writeError(w, withID(err, sessionID(r)))
		return
	}
	h.writeView(w, r)
}

func (h *handler) listPlaces(w http.ResponseWriter, r *http.Request) {
	trip := mux.Vars(r)["trip"]
	var kind domain.Kind
	if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
		parsed, err := domain.ParseKind(strings.ToLower(raw))
		if err != nil {
			writeError(w, apperrors.BadRequest(err.Error()))
			return
		}
		kind = parsed
	}
	places, err := h.app.Places.ListPlaces(r.Context(), trip, kind)
	if err != nil {
		writeError(w, apperrors.Internal("list places", err))
		return
	}
	if places == nil {
		places = []domain.NormalizedItem{}
	}
	writeJSON(w, http.StatusOK, places)
}

func (h *handler) listItinerary(w http.ResponseWriter, r *http.Request) {
	entries, err := h.app.Itinerary.ListEntries(r.Context(), mux.Vars(r)["trip"])
	if err != nil {
		writeError(w, apperrors.Internal("list itinerary", err))
		return
	}
	if entries == nil {
		entries = []itinerary.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) writeView(w http.ResponseWriter, r *http.Request) {
	sess, err := h.session(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.View())
}

func (h *handler) session(r *http.Request) (*discovery.Session, error) {
	id := sessionID(r)
	sess, err := h.app.Discovery.Get(id)
	if err != nil {
		return nil, withID(err, id)
	}
	return sess, nil
}

func sessionID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	apperrors.Write(w, toServiceError(err))
}
