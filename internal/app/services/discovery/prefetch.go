package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
	"github.com/roamly/discovery/internal/app/metrics"
	"github.com/roamly/discovery/pkg/logger"
)

// Prefetcher keeps the items from the cursor through cursor+window validated
// ahead of the user. It never retries and never cancels work that falls out
// of a moved window.
type Prefetcher struct {
	provider ValidationProvider
	log      *logger.Logger
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewPrefetcher creates a prefetcher backed by provider.
func NewPrefetcher(provider ValidationProvider, log *logger.Logger) *Prefetcher {
	if log == nil {
		log = logger.NewDefault("discovery-prefetch")
	}
	return &Prefetcher{provider: provider, log: log}
}

// WithTimeout bounds every provider call. Zero leaves the provider's own
// timeout in charge.
func (p *Prefetcher) WithTimeout(d time.Duration) *Prefetcher {
	p.timeout = d
	return p
}

// Evaluate claims every pending item inside the window and starts one
// validation per claimed item.
func (p *Prefetcher) Evaluate(q *Queue) {
	claims := q.claimWindow()
	for _, c := range claims {
		q.publish(c.event)
	}
	for _, c := range claims {
		p.wg.Add(1)
		metrics.ValidationStarted()
		go p.validate(q, c)
	}
}

// Wait blocks until every dispatched validation has settled.
func (p *Prefetcher) Wait() {
	p.wg.Wait()
}

func (p *Prefetcher) validate(q *Queue, c claim) {
	defer p.wg.Done()
	started := time.Now()

	ctx := q.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	entry := p.log.WithFields(logrus.Fields{
		"session_id": q.SessionID(),
		"index":      c.index,
		"kind":       string(q.Kind()),
	})

	var (
		enr    *domain.Enrichment
		errMsg string
	)
	if p.provider == nil {
		errMsg = "no validation provider configured"
	} else if result, err := p.provider.ValidateCandidate(ctx, c.name, q.City()); err != nil {
		errMsg = err.Error()
	} else {
		enr = &result
	}

	ev, ok, err := q.settle(c.index, enr, errMsg)
	outcome := string(domain.StatusValidated)
	switch {
	case err != nil:
		outcome = "discarded"
		entry.WithError(err).Warn("validation result rejected")
	case !ok:
		outcome = "discarded"
		entry.Debug("validation finished after session close")
	case enr == nil:
		outcome = string(domain.StatusError)
		entry.WithField("error", errMsg).Info("candidate failed validation")
	}
	metrics.RecordValidation(string(q.Kind()), outcome, time.Since(started))

	if ok {
		q.publish(ev)
	}
}
