package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"wealthflow/internal/app"
	"wealthflow/internal/core"
	"wealthflow/internal/notify"
)

func newSettingsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change notification settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show notification settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				s := a.Notify.Settings()
				return opts.formatter(cmd).Success(s, func(w io.Writer) { writeSettings(w, s) })
			})
		},
	})
	cmd.AddCommand(newSettingsSetCommand(opts))
	return cmd
}

func newSettingsSetCommand(opts *RootOptions) *cobra.Command {
	var (
		enabled, sound, desktop, push, email bool
		scheduleTime                         string
		types                                []string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change notification settings",
		Example: `  wealthflow settings set --sound=false --time 08:30
  wealthflow settings set --type budget_warning=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withApp(cmd, func(ctx context.Context, a *app.App) error {
				s := a.Notify.Settings()
				flags := cmd.Flags()
				if flags.Changed("enabled") {
					s.Enabled = enabled
				}
				if flags.Changed("sound") {
					s.Sound = sound
				}
				if flags.Changed("desktop") {
					s.Desktop = desktop
				}
				if flags.Changed("push") {
					s.Push = push
				}
				if flags.Changed("email") {
					s.Email = email
				}
				if flags.Changed("time") {
					s.ScheduleTime = scheduleTime
				}
				if err := applyTypeToggles(&s, types); err != nil {
					return WrapExitError(ExitCommandError, "invalid --type", err)
				}
				if err := a.UpdateSettings(ctx, s); err != nil {
					return WrapExitError(ExitCommandError, "settings rejected", err)
				}
				saved := a.Notify.Settings()
				return opts.formatter(cmd).Success(saved, func(w io.Writer) { writeSettings(w, saved) })
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&enabled, "enabled", true, "turn all notifications on or off")
	f.BoolVar(&sound, "sound", true, "play a sound for new notifications")
	f.BoolVar(&desktop, "desktop", true, "show desktop notifications")
	f.BoolVar(&push, "push", false, "forward notifications to other devices")
	f.BoolVar(&email, "email", false, "send notifications by email")
	f.StringVar(&scheduleTime, "time", "", "daily summary time (HH:MM)")
	f.StringSliceVar(&types, "type", nil, "per-type toggle as type=true|false (repeatable)")
	return cmd
}

func applyTypeToggles(s *notify.Settings, toggles []string) error {
	if len(toggles) == 0 {
		return nil
	}
	known := make(map[core.NotificationType]bool)
	for _, t := range core.NotificationTypes() {
		known[t] = true
	}
	for _, raw := range toggles {
		name, value, ok := strings.Cut(raw, "=")
		if !ok {
			return fmt.Errorf("%q: expected type=true|false", raw)
		}
		t := core.NotificationType(strings.TrimSpace(name))
		if !known[t] {
			return fmt.Errorf("unknown notification type %q", name)
		}
		on, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%q: %w", raw, err)
		}
		if s.Types == nil {
			s.Types = make(map[core.NotificationType]bool)
		}
		s.Types[t] = on
	}
	return nil
}

func writeSettings(w io.Writer, s notify.Settings) {
	fmt.Fprintf(w, "enabled:  %t\n", s.Enabled)
	fmt.Fprintf(w, "sound:    %t\n", s.Sound)
	fmt.Fprintf(w, "desktop:  %t\n", s.Desktop)
	fmt.Fprintf(w, "push:     %t\n", s.Push)
	fmt.Fprintf(w, "email:    %t\n", s.Email)
	fmt.Fprintf(w, "summary:  %s\n", s.ScheduleTime)

	names := make([]string, 0, len(s.Types))
	for t := range s.Types {
		names = append(names, string(t))
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-18s %t\n", name, s.Allows(core.NotificationType(name)))
	}
}
