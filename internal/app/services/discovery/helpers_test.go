package discovery

import (
	"context"
	"errors"
	"sync"

	domain "github.com/roamly/discovery/internal/app/domain/discovery"
)

// fakeProvider validates instantly unless a gate is registered for the name,
// and fails names listed in failures.
type fakeProvider struct {
	mu       sync.Mutex
	calls    []string
	gates    map[string]chan struct{}
	failures map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		gates:    make(map[string]chan struct{}),
		failures: make(map[string]error),
	}
}

func (p *fakeProvider) gate(names ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range names {
		p.gates[n] = make(chan struct{})
	}
}

func (p *fakeProvider) release(name string) {
	p.mu.Lock()
	ch := p.gates[name]
	delete(p.gates, name)
	p.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (p *fakeProvider) fail(name string, err error) {
	p.mu.Lock()
	p.failures[name] = err
	p.mu.Unlock()
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) ValidateCandidate(ctx context.Context, name, city string) (domain.Enrichment, error) {
	p.mu.Lock()
	p.calls = append(p.calls, name)
	gate := p.gates[name]
	failure := p.failures[name]
	p.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Enrichment{}, ctx.Err()
		}
	}
	if failure != nil {
		return domain.Enrichment{}, failure
	}
	rating := 4.5
	return domain.Enrichment{
		Address:   name + ", " + city,
		PhotoURLs: []string{"https://photos.example/" + name + ".jpg"},
		Rating:    &rating,
	}, nil
}

// recorder collects status transitions per item index.
type recorder struct {
	mu     sync.Mutex
	status map[int][]domain.Status
	events []Event
}

func newRecorder() *recorder {
	return &recorder{status: make(map[int][]domain.Status)}
}

func (r *recorder) observe(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	if ev.Type != EventStatus {
		return
	}
	seq := r.status[ev.Index]
	if len(seq) == 0 {
		seq = append(seq, ev.From)
	}
	r.status[ev.Index] = append(seq, ev.To)
}

func (r *recorder) sequence(index int) []domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Status(nil), r.status[index]...)
}

func candidates(names ...string) []domain.RawCandidate {
	out := make([]domain.RawCandidate, 0, len(names))
	for _, n := range names {
		out = append(out, domain.RawCandidate{Name: n, Rationale: "worth a visit"})
	}
	return out
}

func statuses(q *Queue) []domain.Status {
	items := q.Items()
	out := make([]domain.Status, len(items))
	for i, item := range items {
		out[i] = item.Status
	}
	return out
}

var errNotFound = errors.New("place not found")
