package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/cwygoda/snapkeeper/internal/domain"
	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Recurrence controls automatic re-capture.
type Recurrence struct {
	Enabled bool `toml:"enabled"`
	// Schedule is a cron expression evaluated from the latest snapshot date,
	// e.g. "@every 24h" or "0 3 * * *".
	Schedule string `toml:"schedule"`
}

// Gating lists device-state preconditions of scheduled captures.
type Gating struct {
	MinBattery  int  `toml:"min_battery"`
	RequireWifi bool `toml:"require_wifi"`
}

// Notifications toggles user-facing conditions.
type Notifications struct {
	Errors  bool `toml:"errors"`
	Blocked bool `toml:"blocked"`
	Running bool `toml:"running"`
}

// Destination configures one archive location.
type Destination struct {
	Kind domain.DestinationKind `toml:"kind"`
	Path string                 `toml:"path"`
}

// Settings is the user-editable configuration file.
type Settings struct {
	Recurrence    Recurrence             `toml:"recurrence"`
	Gating        Gating                 `toml:"gating"`
	Notifications Notifications          `toml:"notifications"`
	Destinations  map[string]Destination `toml:"destinations"`
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings() Settings {
	return Settings{
		Recurrence:    Recurrence{Enabled: true, Schedule: "@every 24h"},
		Notifications: Notifications{Errors: true, Blocked: true},
		Destinations:  map[string]Destination{},
	}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RecurrenceSchedule parses the recurrence cron expression.
func (s Settings) RecurrenceSchedule() (cron.Schedule, error) {
	return cronParser.Parse(s.Recurrence.Schedule)
}

// Validate checks cross-field constraints.
func (s Settings) Validate() error {
	if s.Recurrence.Enabled {
		if _, err := s.RecurrenceSchedule(); err != nil {
			return fmt.Errorf("recurrence schedule %q: %w", s.Recurrence.Schedule, err)
		}
	}
	if s.Gating.MinBattery < 0 || s.Gating.MinBattery > 100 {
		return fmt.Errorf("min_battery %d out of range 0-100", s.Gating.MinBattery)
	}
	for name, d := range s.Destinations {
		switch d.Kind {
		case domain.DestinationLocal, domain.DestinationShare:
		default:
			return fmt.Errorf("destination %q: unknown kind %q", name, d.Kind)
		}
		if d.Path == "" {
			return fmt.Errorf("destination %q: path is required", name)
		}
	}
	return nil
}

// LoadSettings reads a TOML settings file. A missing file yields defaults.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()
	if _, err := toml.DecodeFile(path, &s); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSettings(), nil
		}
		return Settings{}, fmt.Errorf("decode settings %s: %w", path, err)
	}
	if s.Destinations == nil {
		s.Destinations = map[string]Destination{}
	}
	for name, d := range s.Destinations {
		d.Path = ExpandPath(d.Path)
		s.Destinations[name] = d
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// SettingsListener is invoked with the new settings after a change.
type SettingsListener func(Settings)

// SettingsStore holds the current settings and notifies subscribers by tag.
type SettingsStore struct {
	path   string
	logger logrus.FieldLogger

	mu        sync.RWMutex
	current   Settings
	listeners map[string]SettingsListener
}

// NewSettingsStore creates a store seeded with s. path may be empty for
// stores that are only updated programmatically.
func NewSettingsStore(path string, s Settings, logger logrus.FieldLogger) *SettingsStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SettingsStore{
		path:      path,
		logger:    logger,
		current:   s,
		listeners: make(map[string]SettingsListener),
	}
}

// OpenSettingsStore loads path and returns a store for it.
func OpenSettingsStore(path string, logger logrus.FieldLogger) (*SettingsStore, error) {
	s, err := LoadSettings(path)
	if err != nil {
		return nil, err
	}
	return NewSettingsStore(path, s, logger), nil
}

// Current returns a read-only copy of the current settings.
func (st *SettingsStore) Current() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Subscribe registers fn under tag, replacing any previous subscription with that tag.
func (st *SettingsStore) Subscribe(tag string, fn SettingsListener) {
	st.mu.Lock()
	st.listeners[tag] = fn
	st.mu.Unlock()
}

// Unsubscribe removes the subscription registered under tag.
func (st *SettingsStore) Unsubscribe(tag string) {
	st.mu.Lock()
	delete(st.listeners, tag)
	st.mu.Unlock()
}

// Update replaces the current settings and notifies subscribers.
func (st *SettingsStore) Update(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	st.mu.Lock()
	st.current = s
	tags := make([]string, 0, len(st.listeners))
	for tag := range st.listeners {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	listeners := make([]SettingsListener, 0, len(tags))
	for _, tag := range tags {
		listeners = append(listeners, st.listeners[tag])
	}
	st.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
	return nil
}

// Reload re-reads the settings file and applies it.
func (st *SettingsStore) Reload() error {
	if st.path == "" {
		return nil
	}
	s, err := LoadSettings(st.path)
	if err != nil {
		return err
	}
	return st.Update(s)
}

// Watch reloads the settings whenever the file is written. Blocks until ctx is cancelled.
// The parent directory is watched so editors that replace the file are seen.
func (st *SettingsStore) Watch(ctx context.Context) error {
	if st.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(st.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(st.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := st.Reload(); err != nil {
				st.logger.WithError(err).Warn("settings: reload failed, keeping previous settings")
				continue
			}
			st.logger.Info("settings: reloaded")
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			st.logger.WithError(err).Warn("settings: watcher error")
		}
	}
}
