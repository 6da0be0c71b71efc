package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"sos-relay/internal/models"
	"sos-relay/internal/repository"
)

// fakeChannel records calls and returns whatever send returns.
type fakeChannel struct {
	kind models.ChannelKind
	send func(ctx context.Context, alert models.OutboundAlert) (models.Receipt, error)

	mu    sync.Mutex
	calls []models.OutboundAlert
}

func (f *fakeChannel) Kind() models.ChannelKind { return f.kind }

func (f *fakeChannel) Send(ctx context.Context, alert models.OutboundAlert) (models.Receipt, error) {
	f.mu.Lock()
	f.calls = append(f.calls, alert)
	f.mu.Unlock()
	if f.send == nil {
		return models.Receipt{ChannelKind: f.kind}, nil
	}
	return f.send(ctx, alert)
}

func (f *fakeChannel) Calls() []models.OutboundAlert {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OutboundAlert(nil), f.calls...)
}

// failingStore fails every Append.
type failingStore struct {
	repository.AlertStore
	err error
}

func (s *failingStore) Append(context.Context, *models.AlertRecord) (string, error) {
	return "", s.err
}

type fakeReconcileLog struct {
	mu      sync.Mutex
	entries []models.ReconcileEntry
	pending []repository.ReconcileMessage
	acked   []string
	nextID  int
}

func (l *fakeReconcileLog) Record(_ context.Context, entry models.ReconcileEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	l.nextID++
	l.pending = append(l.pending, repository.ReconcileMessage{ID: strconv.Itoa(l.nextID), Entry: entry})
	return nil
}

func (l *fakeReconcileLog) Read(_ context.Context, count int64, _ time.Duration) ([]repository.ReconcileMessage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := int(count)
	if n > len(l.pending) {
		n = len(l.pending)
	}
	out := l.pending[:n]
	l.pending = append([]repository.ReconcileMessage(nil), l.pending[n:]...)
	return out, nil
}

func (l *fakeReconcileLog) Ack(_ context.Context, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acked = append(l.acked, ids...)
	return nil
}

func (l *fakeReconcileLog) Entries() []models.ReconcileEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.ReconcileEntry(nil), l.entries...)
}

type recordedEvent struct {
	subject string
	payload any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (p *fakePublisher) Publish(subject string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{subject: subject, payload: payload})
	return p.err
}

var errStoreDown = errors.New("store unavailable")
