package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/metrics"
	"github.com/roamly/discovery/internal/app/system"
	"github.com/roamly/discovery/pkg/logger"
)

var _ system.Service = (*Service)(nil)

// Options tunes session behaviour.
type Options struct {
	Window            int
	SuggestionLimit   int
	SessionTTL        time.Duration
	SweepInterval     time.Duration
	ValidationTimeout time.Duration
}

// DefaultOptions mirrors the process defaults.
func DefaultOptions() Options {
	return Options{
		Window:          DefaultPrefetchWindow,
		SuggestionLimit: 12,
		SessionTTL:      30 * time.Minute,
		SweepInterval:   time.Minute,
	}
}

// StartRequest opens a discovery session. Window overrides the configured
// prefetch window when set.
type StartRequest struct {
	TripID    string      `json:"trip_id"`
	City      string      `json:"city"`
	Region    string      `json:"region,omitempty"`
	Kind      domain.Kind `json:"kind"`
	TripStart *time.Time  `json:"trip_start,omitempty"`
	TripEnd   *time.Time  `json:"trip_end,omitempty"`
	Window    *int        `json:"window,omitempty"`
}

func (r StartRequest) validate() error {
	switch {
	case strings.TrimSpace(r.TripID) == "":
		return fmt.Errorf("%w: trip_id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.City) == "":
		return fmt.Errorf("%w: city is required", ErrInvalidRequest)
	case !r.Kind.IsValid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, r.Kind)
	case r.Window != nil && *r.Window < 0:
		return fmt.Errorf("%w: window must be >= 0", ErrInvalidRequest)
	case r.TripStart != nil && r.TripEnd != nil && r.TripEnd.Before(*r.TripStart):
		return fmt.Errorf("%w: trip_end precedes trip_start", ErrInvalidRequest)
	}
	return nil
}

// Service owns the registry of discovery sessions.
type Service struct {
	source     SuggestionSource
	repo       Repository
	prefetcher *Prefetcher
	router     *Router
	log        *logger.Logger
	opts       Options
	observer   func(Event)
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
	stopped  bool

	lifecycle sync.Mutex
	cron      *cron.Cron
}

// New wires the discovery engine over its collaborators.
func New(source SuggestionSource, provider ValidationProvider, repo Repository, scheduler ItineraryScheduler, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("discovery")
	}
	if opts.Window < 0 {
		opts.Window = 0
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultOptions().SessionTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultOptions().SweepInterval
	}
	prefetcher := NewPrefetcher(provider, log.Named("discovery-prefetch")).WithTimeout(opts.ValidationTimeout)
	negotiator := NewNegotiator(scheduler, log.Named("discovery-schedule"))
	return &Service{
		source:     source,
		repo:       repo,
		prefetcher: prefetcher,
		router:     NewRouter(repo, negotiator, log.Named("discovery-router")),
		log:        log,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		sessions:   make(map[string]*Session),
	}
}

// WithObserver registers a callback invoked synchronously for every queue
// event of every session started afterwards.
func (s *Service) WithObserver(fn func(Event)) {
	s.observer = fn
}

// WithClock overrides the clock used for idle tracking.
func (s *Service) WithClock(now func() time.Time) {
	if now != nil {
		s.now = now
		s.router.now = now
	}
}

// Prefetcher exposes the validation scheduler so callers can wait on it.
func (s *Service) Prefetcher() *Prefetcher { return s.prefetcher }

// StartSession generates candidates and registers a new session. When
// generation fails the session stays registered as failed and the error wraps
// ErrGenerationFailed; the caller may Retry or Close it.
func (s *Service) StartSession(ctx context.Context, req StartRequest) (*Session, error) {
	req.TripID = strings.TrimSpace(req.TripID)
	req.City = strings.TrimSpace(req.City)
	req.Region = strings.TrimSpace(req.Region)
	if err := req.validate(); err != nil {
		return nil, err
	}

	window := s.opts.Window
	if req.Window != nil {
		window = *req.Window
	}
	sess := newSession(uuid.NewString(), req, window, s.now())

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.sessions[sess.ID] = sess
	count := len(s.sessions)
	s.mu.Unlock()
	metrics.SetActiveSessions(count)

	return sess, s.generate(ctx, sess)
}

// Retry reruns generation for a failed session.
func (s *Service) Retry(ctx context.Context, id string) (*Session, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := sess.beginGeneration(); err != nil {
		return sess, err
	}
	return sess, s.generate(ctx, sess)
}

func (s *Service) generate(ctx context.Context, sess *Session) error {
	entry := s.log.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"city":       sess.City,
		"kind":       string(sess.Kind),
	})

	fail := func(err error) error {
		metrics.RecordSessionStart(string(sess.Kind), false)
		sess.fail(err)
		entry.WithError(err).Warn("discovery session failed to generate")
		return err
	}

	if s.source == nil {
		return fail(fmt.Errorf("%w: no suggestion source configured", ErrGenerationFailed))
	}

	var existing []string
	if s.repo != nil {
		names, err := s.repo.ListPlaceNames(ctx, sess.TripID, sess.Kind)
		if err != nil {
			return fail(fmt.Errorf("%w: read saved %ss: %v", ErrGenerationFailed, sess.Kind, err))
		}
		existing = names
	}

	raw, err := s.source.GenerateSuggestions(ctx, SuggestionRequest{
		City:         sess.City,
		Region:       sess.Region,
		Kind:         sess.Kind,
		ExcludeNames: ExclusionList(existing),
		Limit:        s.opts.SuggestionLimit,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrGenerationFailed, err))
	}

	candidates := FilterCandidates(raw, existing)
	if s.opts.SuggestionLimit > 0 && len(candidates) > s.opts.SuggestionLimit {
		candidates = candidates[:s.opts.SuggestionLimit]
	}
	if len(candidates) == 0 {
		return fail(fmt.Errorf("%w: no new %ss suggested for %s", ErrGenerationFailed, sess.Kind, sess.City))
	}

	q := NewQueue(sess.ctx, QueueConfig{
		SessionID: sess.ID,
		Kind:      sess.Kind,
		City:      sess.City,
		Window:    sess.Window,
		Observer:  s.observer,
	}, candidates, s.prefetcher)
	if !sess.activate(q) {
		q.Close()
		return ErrSessionClosed
	}

	metrics.RecordSessionStart(string(sess.Kind), true)
	entry.WithField("items", len(candidates)).Info("discovery session started")
	return nil
}

// Get returns a registered session.
func (s *Service) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Sessions returns views of all registered sessions ordered by creation.
func (s *Service) Sessions() []View {
	s.mu.RLock()
	list := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	views := make([]View, 0, len(list))
	for _, sess := range list {
		views = append(views, sess.View())
	}
	return views
}

// Close exits a session. Pending validation results are discarded.
func (s *Service) Close(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	count := len(s.sessions)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	sess.close()
	metrics.SetActiveSessions(count)
	s.log.WithField("session_id", id).Info("discovery session closed")
	return nil
}

// Skip advances past the current item of session id.
func (s *Service) Skip(ctx context.Context, id string) (ActionResult, error) {
	sess, err := s.Get(id)
	if err != nil {
		return ActionResult{}, err
	}
	return s.router.Skip(ctx, sess)
}

// Save saves the current item of session id.
func (s *Service) Save(ctx context.Context, id string) (ActionResult, error) {
	sess, err := s.Get(id)
	if err != nil {
		return ActionResult{}, err
	}
	return s.router.Save(ctx, sess)
}

// Schedule opens a schedule negotiation on session id.
func (s *Service) Schedule(ctx context.Context, id string) (*Negotiation, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return s.router.Schedule(ctx, sess)
}

// ConfirmSchedule confirms the open negotiation of session id.
func (s *Service) ConfirmSchedule(ctx context.Context, id string, in ScheduleInput) error {
	n, err := s.openNegotiation(id)
	if err != nil {
		return err
	}
	return n.Confirm(ctx, in)
}

// CancelSchedule cancels the open negotiation of session id.
func (s *Service) CancelSchedule(id string) error {
	n, err := s.openNegotiation(id)
	if err != nil {
		return err
	}
	return n.Cancel()
}

func (s *Service) openNegotiation(id string) (*Negotiation, error) {
	sess, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	n := sess.Negotiation()
	if n == nil {
		return nil, ErrNoNegotiation
	}
	return n, nil
}

func (s *Service) Name() string { return "discovery" }

// Start schedules the idle session sweep. A stopped service accepts new
// sessions again once restarted.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+s.opts.SweepInterval.String(), func() { s.Sweep() }); err != nil {
		return fmt.Errorf("schedule session sweep: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("interval", s.opts.SweepInterval.String()).Info("discovery session sweeper started")
	return nil
}

// Stop halts the sweeper, closes every session and waits for in-flight
// validations to settle or ctx to expire. StartSession fails with
// ErrSessionClosed until the service is started again.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	c := s.cron
	s.cron = nil
	s.lifecycle.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	s.mu.Lock()
	s.stopped = true
	list := make([]*Session, 0, len(s.sessions))
	for id, sess := range s.sessions {
		list = append(list, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	for _, sess := range list {
		sess.close()
	}
	metrics.SetActiveSessions(0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.prefetcher.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("discovery service stopped")
	return nil
}

// Sweep closes sessions idle for longer than the session TTL and returns
// their ids.
func (s *Service) Sweep() []string {
	cutoff := s.now().Add(-s.opts.SessionTTL)

	s.mu.RLock()
	var idle []string
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	s.mu.RUnlock()

	sort.Strings(idle)
	for _, id := range idle {
		if err := s.Close(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.log.WithError(err).WithField("session_id", id).Warn("close idle session")
		}
	}
	if len(idle) > 0 {
		s.log.WithField("count", len(idle)).Info("swept idle discovery sessions")
	}
	return idle
}
