// Package notify turns local and server events into user-visible
// notifications. The notification list itself lives in the state store;
// this package owns settings, display channels, threshold de-duplication
// and the periodic checks.
package notify

import (
	"context"
	"fmt"
	"maps"

	"wealthflow/internal/config"
	"wealthflow/internal/core"
	"wealthflow/internal/storage"
)

// Settings are the user's notification preferences. Types missing from the
// map are treated as enabled.
type Settings struct {
	Enabled      bool                           `json:"enabled"`
	Sound        bool                           `json:"sound"`
	Desktop      bool                           `json:"desktop"`
	Push         bool                           `json:"push"`
	Email        bool                           `json:"email"`
	ScheduleTime string                         `json:"scheduleTime"`
	Types        map[core.NotificationType]bool `json:"types"`
}

func DefaultSettings() Settings {
	types := make(map[core.NotificationType]bool)
	for _, t := range core.NotificationTypes() {
		types[t] = true
	}
	return Settings{
		Enabled:      true,
		Sound:        true,
		Desktop:      true,
		ScheduleTime: "09:00",
		Types:        types,
	}
}

// Allows reports whether a notification of type t may be created
func (s Settings) Allows(t core.NotificationType) bool {
	if !s.Enabled {
		return false
	}
	on, ok := s.Types[t]
	return !ok || on
}

func (s Settings) Validate() error {
	if !config.ValidScheduleTime(s.ScheduleTime) {
		return fmt.Errorf("invalid schedule time %q: must be HH:MM", s.ScheduleTime)
	}
	return nil
}

func (s Settings) clone() Settings {
	s.Types = maps.Clone(s.Types)
	return s
}

// LoadSettings reads saved settings over the defaults, so keys added after
// the settings were saved keep their default values.
func LoadSettings(ctx context.Context, kv storage.KV) (Settings, error) {
	s := DefaultSettings()
	if kv == nil {
		return s, nil
	}
	if _, err := storage.GetJSON(ctx, kv, storage.KeyNotificationSettings, &s); err != nil {
		return DefaultSettings(), fmt.Errorf("load notification settings: %w", err)
	}
	if s.Types == nil {
		s.Types = DefaultSettings().Types
	}
	if !config.ValidScheduleTime(s.ScheduleTime) {
		s.ScheduleTime = DefaultSettings().ScheduleTime
	}
	return s, nil
}

func SaveSettings(ctx context.Context, kv storage.KV, s Settings) error {
	if kv == nil {
		return nil
	}
	return storage.PutJSON(ctx, kv, storage.KeyNotificationSettings, s)
}
