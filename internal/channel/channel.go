// Package channel delivers alerts over heterogeneous transports and maps every
// provider failure onto one ErrorKind.
package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"sos-relay/internal/models"
)

// Channel sends one alert through one transport.
type Channel interface {
	Kind() models.ChannelKind
	// Send returns a Receipt on success; every failure is a *Error.
	Send(ctx context.Context, alert models.OutboundAlert) (models.Receipt, error)
}

// Registry holds the channels available to the dispatcher, keyed by kind.
type Registry struct {
	mu       sync.RWMutex
	channels map[models.ChannelKind]Channel
}

// NewRegistry creates a registry pre-populated with channels.
func NewRegistry(channels ...Channel) (*Registry, error) {
	r := &Registry{channels: make(map[models.ChannelKind]Channel)}
	for _, ch := range channels {
		if err := r.Register(ch); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds ch. A kind may be registered once.
func (r *Registry) Register(ch Channel) error {
	if ch == nil {
		return fmt.Errorf("cannot register nil channel")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.channels[ch.Kind()]; exists {
		return fmt.Errorf("channel %s already registered", ch.Kind())
	}
	r.channels[ch.Kind()] = ch
	return nil
}

// Get returns the channel for kind.
func (r *Registry) Get(kind models.ChannelKind) (Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ch, ok := r.channels[kind]
	return ch, ok
}

// Kinds lists registered kinds in stable order.
func (r *Registry) Kinds() []models.ChannelKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.ChannelKind, 0, len(r.channels))
	for k := range r.channels {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
