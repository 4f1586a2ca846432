// Package alarm schedules wake-up prompts. Alarms live in a JSON file and a
// monitor loop checks them against the wall clock; firing an alarm marks the
// day so it cannot double-fire, and non-recurring alarms are removed.
package alarm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// Date layouts used in the alarm file.
const (
	clockLayout = "15:04"
	dayLayout   = "2006-01-02"
)

// DefaultInterval is how often the monitor loop checks the clock.
const DefaultInterval = 10 * time.Second

// Alarm is one scheduled wake-up.
type Alarm struct {
	Name          string `json:"name"`
	Time          string `json:"time"` // HH:MM, 24h
	Message       string `json:"message"`
	Recurring     bool   `json:"recurring"`
	Enabled       bool   `json:"enabled"`
	LastTriggered string `json:"last_triggered,omitempty"` // YYYY-MM-DD
}

// ShouldTrigger reports whether the alarm fires at now: enabled, the alarm
// time has been reached today, and it has not fired today yet. Comparing
// past-due rather than minute-exact means a check delayed by a late start
// or a suspend still fires the alarm instead of skipping the day.
func ShouldTrigger(a Alarm, now time.Time) bool {
	if !a.Enabled {
		return false
	}
	// HH:MM strings compare chronologically.
	if now.Format(clockLayout) < a.Time {
		return false
	}
	return a.LastTriggered != now.Format(dayLayout)
}

// Scheduler owns the alarm file and the monitor loop.
type Scheduler struct {
	mu     sync.Mutex
	path   string
	alarms []Alarm
	logger *slog.Logger
}

// Load reads the alarm file at path. A missing file starts an empty
// schedule; a corrupt one is replaced with an empty schedule.
func Load(path string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, &s.alarms); jsonErr == nil {
			return s, nil
		}
		logger.Warn("alarm file unparseable, starting empty", "path", path)
	} else if !os.IsNotExist(err) {
		logger.Warn("alarm file unreadable, starting empty", "path", path, "error", err)
	}

	if err := s.save(); err != nil {
		return nil, fmt.Errorf("write alarm file: %w", err)
	}
	return s, nil
}

// save persists the schedule. Caller holds mu (or owns s exclusively).
func (s *Scheduler) save() error {
	if s.alarms == nil {
		s.alarms = []Alarm{}
	}
	data, err := json.MarshalIndent(s.alarms, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

// Add validates and stores a new alarm. Names must be unique and the time
// must be a valid HH:MM clock value.
func (s *Scheduler) Add(a Alarm) error {
	if a.Name == "" {
		return fmt.Errorf("alarm needs a name")
	}
	if _, err := time.Parse(clockLayout, a.Time); err != nil {
		return fmt.Errorf("invalid alarm time %q, want HH:MM: %w", a.Time, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.alarms {
		if existing.Name == a.Name {
			return fmt.Errorf("alarm %q already exists", a.Name)
		}
	}
	a.Enabled = true
	a.LastTriggered = ""
	s.alarms = append(s.alarms, a)
	return s.save()
}

// Remove deletes an alarm by name.
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alarms {
		if s.alarms[i].Name == name {
			s.alarms = append(s.alarms[:i], s.alarms[i+1:]...)
			return s.save()
		}
	}
	return fmt.Errorf("no alarm named %q", name)
}

// SetEnabled toggles an alarm without removing it.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alarms {
		if s.alarms[i].Name == name {
			s.alarms[i].Enabled = enabled
			return s.save()
		}
	}
	return fmt.Errorf("no alarm named %q", name)
}

// List returns the alarms sorted by time.
func (s *Scheduler) List() []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Alarm, len(s.alarms))
	copy(out, s.alarms)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

// Check fires every due alarm as of now: marks the day, drops non-recurring
// alarms and returns the fired ones for the caller to act on.
func (s *Scheduler) Check(now time.Time) []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []Alarm
	kept := s.alarms[:0]
	changed := false
	for _, a := range s.alarms {
		if !ShouldTrigger(a, now) {
			kept = append(kept, a)
			continue
		}
		a.LastTriggered = now.Format(dayLayout)
		fired = append(fired, a)
		changed = true
		if a.Recurring {
			kept = append(kept, a)
		}
	}
	s.alarms = kept

	if changed {
		if err := s.save(); err != nil {
			s.logger.Warn("alarm save failed", "error", err)
		}
	}
	return fired
}

// Run checks the schedule every interval until ctx is done, invoking
// onFire for each triggered alarm.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration, onFire func(Alarm)) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, a := range s.Check(now) {
				s.logger.Info("alarm fired", "name", a.Name, "time", a.Time)
				if onFire != nil {
					onFire(a)
				}
			}
		}
	}
}
