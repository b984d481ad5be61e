package destination

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cwygoda/snapkeeper/internal/config"
	"github.com/cwygoda/snapkeeper/internal/domain"
)

// Set holds the destinations configured in the settings.
type Set struct {
	mu    sync.RWMutex
	dests map[string]domain.Destination
}

func NewSet() *Set {
	return &Set{dests: make(map[string]domain.Destination)}
}

// New builds the destination of the given kind.
func New(name string, cfg config.Destination) (domain.Destination, error) {
	switch cfg.Kind {
	case domain.DestinationLocal:
		return NewLocal(name, cfg.Path), nil
	case domain.DestinationShare:
		return NewShare(name, cfg.Path), nil
	default:
		return nil, fmt.Errorf("%w: %q has kind %q", domain.ErrUnknownDestination, name, cfg.Kind)
	}
}

// Configure replaces the set. On error the previous set is kept.
func (s *Set) Configure(cfgs map[string]config.Destination) error {
	dests := make(map[string]domain.Destination, len(cfgs))
	for name, cfg := range cfgs {
		d, err := New(name, cfg)
		if err != nil {
			return err
		}
		dests[name] = d
	}
	s.mu.Lock()
	s.dests = dests
	s.mu.Unlock()
	return nil
}

// Get returns the destination configured under name.
func (s *Set) Get(name string) (domain.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dests[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDestination, name)
	}
	return d, nil
}

// Names returns the configured destination names in order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.dests))
	for name := range s.dests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
