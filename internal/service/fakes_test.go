package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Seal1026/roosterProj/internal/model"
	"github.com/Seal1026/roosterProj/internal/repo"
)

type fakeGenerator struct {
	calls   atomic.Int64
	content string
	err     error
	// failFor makes Generate fail for prompt texts in the set.
	failFor map[string]bool
	block   chan struct{}
	started chan struct{}
	// holdFor blocks Generate for one prompt text until the channel closes.
	holdFor     string
	hold        chan struct{}
	holdStarted chan struct{}
}

func (f *fakeGenerator) Generate(ctx context.Context, text string) (string, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.block != nil {
		<-f.block
	}
	if f.hold != nil && text == f.holdFor {
		close(f.holdStarted)
		<-f.hold
	}
	if f.err != nil {
		return "", f.err
	}
	if f.failFor[text] {
		return "", errors.New("model unavailable")
	}
	if f.content == "" {
		return "# Report\nall good", nil
	}
	return f.content, nil
}

type delivery struct {
	Destination string
	Subject     string
	Body        string
}

func (f *fakeDeliverer) countTo(destination string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, d := range f.sent {
		if d.Destination == destination {
			n++
		}
	}
	return n
}

type fakeDeliverer struct {
	mu   sync.Mutex
	sent []delivery
	err  error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, destination, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, delivery{destination, subject, body})
	return nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeStore struct {
	mu        sync.Mutex
	prompts   map[string]model.ScheduledPrompt
	order     []string
	commits   int
	commitErr error
	fetchErr  error
}

func newFakeStore(ps ...model.ScheduledPrompt) *fakeStore {
	s := &fakeStore{prompts: map[string]model.ScheduledPrompt{}}
	for _, p := range ps {
		s.prompts[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	return s
}

func (s *fakeStore) FetchAll(ctx context.Context) ([]model.ScheduledPrompt, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduledPrompt, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.prompts[id])
	}
	return out, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (model.ScheduledPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return model.ScheduledPrompt{}, repo.ErrNotFound
	}
	return p, nil
}

func (s *fakeStore) AdvanceLastProcessed(ctx context.Context, id string, at time.Time) (model.ScheduledPrompt, error) {
	if s.commitErr != nil {
		return model.ScheduledPrompt{}, s.commitErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prompts[id]
	if !ok {
		return model.ScheduledPrompt{}, repo.ErrNotFound
	}
	if p.LastProcessed == nil || at.After(*p.LastProcessed) {
		p.LastProcessed = &at
	}
	s.prompts[id] = p
	s.commits++
	return p, nil
}

func (s *fakeStore) lastProcessed(id string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[id].LastProcessed
}

func (s *fakeStore) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func activePrompt(id string, f model.Frequency, now time.Time) model.ScheduledPrompt {
	return model.ScheduledPrompt{
		ID:          id,
		Destination: id + "@example.com",
		PromptText:  "prompt " + id,
		Frequency:   f,
		WindowStart: now.Add(-24 * time.Hour),
		WindowEnd:   now.Add(24 * time.Hour),
		IsActive:    true,
	}
}
