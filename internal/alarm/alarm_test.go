package alarm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := Load(filepath.Join(t.TempDir(), "alarms.json"), nil)
	require.NoError(t, err)
	return s
}

func at(t *testing.T, clock string) time.Time {
	t.Helper()
	now, err := time.Parse("2006-01-02 15:04", "2026-08-23 "+clock)
	require.NoError(t, err)
	return now
}

func TestShouldTrigger(t *testing.T) {
	base := Alarm{Name: "wake", Time: "07:30", Enabled: true}
	tests := []struct {
		name  string
		alarm Alarm
		now   time.Time
		want  bool
	}{
		{"matching minute", base, at(t, "07:30"), true},
		{"minute before", base, at(t, "07:29"), false},
		{"late check still fires", base, at(t, "07:33"), true},
		{
			"late check gated after firing",
			Alarm{Name: "wake", Time: "07:30", Enabled: true, LastTriggered: "2026-08-23"},
			at(t, "07:33"),
			false,
		},
		{"disabled", Alarm{Name: "wake", Time: "07:30"}, at(t, "07:30"), false},
		{
			"already fired today",
			Alarm{Name: "wake", Time: "07:30", Enabled: true, LastTriggered: "2026-08-23"},
			at(t, "07:30"),
			false,
		},
		{
			"fired on a previous day",
			Alarm{Name: "wake", Time: "07:30", Enabled: true, LastTriggered: "2026-08-22"},
			at(t, "07:30"),
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldTrigger(tt.alarm, tt.now))
		})
	}
}

func TestAddValidation(t *testing.T) {
	s := testScheduler(t)

	require.NoError(t, s.Add(Alarm{Name: "wake", Time: "07:30", Message: "good morning"}))
	assert.Error(t, s.Add(Alarm{Name: "wake", Time: "08:00"}), "duplicate name")
	assert.Error(t, s.Add(Alarm{Name: "", Time: "08:00"}), "missing name")
	assert.Error(t, s.Add(Alarm{Name: "bad", Time: "25:99"}), "invalid time")

	list := s.List()
	require.Len(t, list, 1)
	assert.True(t, list[0].Enabled)
}

func TestRemoveAndToggle(t *testing.T) {
	s := testScheduler(t)
	require.NoError(t, s.Add(Alarm{Name: "wake", Time: "07:30"}))

	require.NoError(t, s.SetEnabled("wake", false))
	assert.False(t, s.List()[0].Enabled)

	require.NoError(t, s.Remove("wake"))
	assert.Empty(t, s.List())
	assert.Error(t, s.Remove("wake"))
	assert.Error(t, s.SetEnabled("wake", true))
}

func TestCheckFiresAndMarksDay(t *testing.T) {
	s := testScheduler(t)
	require.NoError(t, s.Add(Alarm{Name: "daily", Time: "07:30", Recurring: true}))
	require.NoError(t, s.Add(Alarm{Name: "once", Time: "07:30"}))
	require.NoError(t, s.Add(Alarm{Name: "later", Time: "09:00"}))

	fired := s.Check(at(t, "07:30"))
	require.Len(t, fired, 2)

	// The one-shot alarm is gone, the recurring one is marked for today.
	list := s.List()
	require.Len(t, list, 2)
	var daily Alarm
	for _, a := range list {
		if a.Name == "daily" {
			daily = a
		}
	}
	assert.Equal(t, "2026-08-23", daily.LastTriggered)

	// Same minute again: nothing fires twice.
	assert.Empty(t, s.Check(at(t, "07:30")))
}

func TestCheckDelayedPastTheMinute(t *testing.T) {
	s := testScheduler(t)
	require.NoError(t, s.Add(Alarm{Name: "wake", Time: "07:00", Recurring: true}))

	// First check of the day lands minutes after the alarm time, as after
	// a late start or a resume from suspend.
	fired := s.Check(at(t, "07:03"))
	require.Len(t, fired, 1)
	assert.Equal(t, "wake", fired[0].Name)

	// Later checks the same day stay quiet.
	assert.Empty(t, s.Check(at(t, "07:05")))
	assert.Empty(t, s.Check(at(t, "12:00")))
}

func TestLoadPersistsSchedule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarms.json")
	s, err := Load(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Add(Alarm{Name: "wake", Time: "07:30", Message: "rise"}))

	again, err := Load(path, nil)
	require.NoError(t, err)
	list := again.List()
	require.Len(t, list, 1)
	assert.Equal(t, "rise", list[0].Message)
}

func TestLoadSelfHealsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarms.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o644))

	s, err := Load(path, nil)
	require.NoError(t, err)
	assert.Empty(t, s.List())
}
