package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomerfi/switcher/internal/breeze"
	"github.com/tomerfi/switcher/internal/config"
	"github.com/tomerfi/switcher/internal/device"
	"github.com/tomerfi/switcher/internal/discovery"
	"github.com/tomerfi/switcher/internal/protocol"
	"github.com/tomerfi/switcher/internal/schedule"
	"github.com/tomerfi/switcher/internal/session"
)

// Command flags
var (
	deviceID  string
	deviceIP  string
	deviceKey string

	scanTimeout int
	timerMins   int

	shutdownHours int

	scheduleID    int
	scheduleDays  string
	scheduleStart string
	scheduleEnd   string

	shutterPosition int

	acRemote string
	acMode   string
	acTemp   int
	acFan    string
	acSwing  bool
	acOff    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&deviceID, "device", "", "Device id (hex, as shown by scan)")
	rootCmd.PersistentFlags().StringVar(&deviceIP, "ip", "", "Device IP address (overrides the registry)")
	rootCmd.PersistentFlags().StringVar(&deviceKey, "key", "", "Device login key (overrides the registry)")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(onCmd)
	rootCmd.AddCommand(offCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(shutdownCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(shutterCmd)
	rootCmd.AddCommand(thermostatCmd)
}

// scanCmd listens for device broadcasts
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Listen for Switcher devices on the network",
	Long: `Listen for the UDP broadcasts Switcher devices send every few seconds
and display every device heard, with its id, address, and current state.

Discovered devices are stored in the local registry so later commands can
reach them by id alone.`,
	Example: `  # Listen for 10 seconds (default)
  switcherctl scan

  # Longer scan for quiet networks
  switcherctl scan --timeout 30`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVar(&scanTimeout, "timeout", 10, "Scan timeout in seconds")
}

func runScan(cmd *cobra.Command, args []string) error {
	registry, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	fmt.Printf("Listening for Switcher devices (timeout: %ds)...\n\n", scanTimeout)

	// The handler is invoked from one receiver goroutine per port.
	var mu sync.Mutex
	seen := make(map[string]bool)
	listener := discovery.NewListener(func(desc device.Descriptor, snap device.Snapshot) {
		mu.Lock()
		defer mu.Unlock()

		entry := registry.EnsureDevice(desc.ID)
		entry.Name = snap.Name
		entry.Type = desc.Type.HexRep()
		entry.Key = desc.Key
		entry.LastIP = desc.IP
		entry.LastSeen = snap.LastUpdate
		if snap.RemoteID != "" {
			entry.RemoteID = snap.RemoteID
		}

		if seen[desc.ID] {
			return
		}
		seen[desc.ID] = true
		fmt.Printf("%s (%s)\n", snap.Name, desc.Type)
		fmt.Printf("   Id:    %s\n", desc.ID)
		fmt.Printf("   IP:    %s\n", desc.IP)
		fmt.Printf("   MAC:   %s\n", desc.MAC)
		fmt.Printf("   State: %s\n", snap.State)
		fmt.Println()
	})

	if err := listener.Listen(cmd.Context(), time.Duration(scanTimeout)*time.Second); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	if len(seen) == 0 {
		fmt.Println("No devices heard.")
		fmt.Println("\nTroubleshooting:")
		fmt.Println("  - Ensure the device is powered and on the same network segment")
		fmt.Println("  - Broadcasts do not cross routers; run the scan on the device's subnet")
		fmt.Println("  - Try increasing --timeout")
		return nil
	}

	if err := registry.Save(); err != nil {
		return fmt.Errorf("failed to update registry: %w", err)
	}
	fmt.Printf("Stored %d device(s) in the registry.\n", len(seen))
	return nil
}

// stateCmd queries a device's operating state
var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show a device's operating state",
	Example: `  # Query a device stored by scan
  switcherctl state --device a1b2c3

  # Query an unregistered device directly
  switcherctl state --device a1b2c3 --ip 10.0.0.55 --key 00`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
			state, err := s.GetState(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("State:         %s\n", state.State)
			fmt.Printf("Power:         %dW (%.1fA)\n", state.PowerWatts, state.CurrentAmps)
			fmt.Printf("Remaining:     %s\n", state.RemainingTime)
			fmt.Printf("Auto shutdown: %s\n", state.AutoShutdown)
			return nil
		})
	},
}

// onCmd turns a device on, optionally with a countdown timer
var onCmd = &cobra.Command{
	Use:   "on",
	Short: "Turn a device on",
	Example: `  # Turn on
  switcherctl on --device a1b2c3

  # Turn on for 30 minutes
  switcherctl on --device a1b2c3 --timer 30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
			if err := s.TurnOn(ctx, time.Duration(timerMins)*time.Minute); err != nil {
				return err
			}
			if timerMins > 0 {
				fmt.Printf("On for %d minutes.\n", timerMins)
			} else {
				fmt.Println("On.")
			}
			return nil
		})
	},
}

func init() {
	onCmd.Flags().IntVar(&timerMins, "timer", 0, "Countdown timer in minutes (0 = no timer)")
}

// offCmd turns a device off
var offCmd = &cobra.Command{
	Use:   "off",
	Short: "Turn a device off",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
			if err := s.TurnOff(ctx); err != nil {
				return err
			}
			fmt.Println("Off.")
			return nil
		})
	},
}

// renameCmd sets a device's display name
var renameCmd = &cobra.Command{
	Use:   "rename <name>",
	Short: "Rename a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
			if err := s.SetName(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Renamed to %q.\n", args[0])
			return nil
		})
	},
}

// shutdownCmd configures the auto shutdown limit
var shutdownCmd = &cobra.Command{
	Use:   "auto-shutdown",
	Short: "Configure the auto shutdown limit",
	Long:  `Set how long the device may stay on before it switches itself off (1-24 hours).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
			limit := time.Duration(shutdownHours) * time.Hour
			if err := s.SetAutoShutdown(ctx, limit); err != nil {
				return err
			}
			fmt.Printf("Auto shutdown set to %s.\n", limit)
			return nil
		})
	},
}

func init() {
	shutdownCmd.Flags().IntVar(&shutdownHours, "hours", 1, "Auto shutdown limit in hours (1-24)")
}

// scheduleCmd groups the schedule slot operations
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage a device's schedule slots",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
			schedules, err := s.GetSchedules(ctx)
			if err != nil {
				return err
			}
			if len(schedules) == 0 {
				fmt.Println("No schedules stored.")
				return nil
			}
			now := time.Now()
			for _, sched := range schedules {
				fmt.Printf("Slot %d: %s-%s", sched.ID, sched.Start, sched.End)
				if sched.Recurring {
					names := make([]string, len(sched.Days))
					for i, d := range sched.Days {
						names[i] = d.String()
					}
					fmt.Printf(" on %s", strings.Join(names, ", "))
				} else {
					fmt.Printf(" (one-shot)")
				}
				if !sched.Enabled {
					fmt.Printf(" [disabled]")
				}
				if next, ok := schedule.NextRun(sched, now); ok && sched.Enabled {
					fmt.Printf(" — next run %s", next.Format("Mon 15:04"))
				}
				fmt.Println()
			}
			return nil
		})
	},
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Store a schedule in a slot",
	Example: `  # Every Sunday and Friday, 13:00 to 14:00, in slot 0
  switcherctl schedule create --device a1b2c3 --id 0 \
      --days sunday,friday --start 13:00 --end 14:00

  # A one-shot schedule for tonight
  switcherctl schedule create --device a1b2c3 --id 1 --start 20:00 --end 21:30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, err := parseDays(scheduleDays)
		if err != nil {
			return err
		}
		start, err := parseClock(scheduleStart)
		if err != nil {
			return err
		}
		end, err := parseClock(scheduleEnd)
		if err != nil {
			return err
		}
		sched := schedule.Schedule{
			ID:        scheduleID,
			Enabled:   true,
			Recurring: len(days) > 0,
			Days:      days,
			Start:     start,
			End:       end,
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
			if err := s.CreateSchedule(ctx, sched); err != nil {
				return err
			}
			fmt.Printf("Schedule stored in slot %d.\n", sched.ID)
			return nil
		})
	},
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Clear a schedule slot",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
			if err := s.DeleteSchedule(ctx, scheduleID); err != nil {
				return err
			}
			fmt.Printf("Slot %d cleared.\n", scheduleID)
			return nil
		})
	},
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable a stored schedule",
	RunE:  func(cmd *cobra.Command, args []string) error { return setScheduleEnabled(cmd, true) },
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable a stored schedule without deleting it",
	RunE:  func(cmd *cobra.Command, args []string) error { return setScheduleEnabled(cmd, false) },
}

func setScheduleEnabled(cmd *cobra.Command, enabled bool) error {
	return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
		schedules, err := s.GetSchedules(ctx)
		if err != nil {
			return err
		}
		for _, sched := range schedules {
			if sched.ID != scheduleID {
				continue
			}
			if err := s.SetScheduleEnabled(ctx, sched, enabled); err != nil {
				return err
			}
			fmt.Printf("Slot %d %s.\n", scheduleID, map[bool]string{true: "enabled", false: "disabled"}[enabled])
			return nil
		}
		return fmt.Errorf("no schedule stored in slot %d", scheduleID)
	})
}

func init() {
	scheduleCmd.PersistentFlags().IntVar(&scheduleID, "id", 0, "Schedule slot (0-7)")
	scheduleCreateCmd.Flags().StringVar(&scheduleDays, "days", "", "Comma-separated weekdays (empty = one-shot)")
	scheduleCreateCmd.Flags().StringVar(&scheduleStart, "start", "", "Start time (HH:MM)")
	scheduleCreateCmd.Flags().StringVar(&scheduleEnd, "end", "", "End time (HH:MM)")

	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleCreateCmd)
	scheduleCmd.AddCommand(scheduleDeleteCmd)
	scheduleCmd.AddCommand(scheduleEnableCmd)
	scheduleCmd.AddCommand(scheduleDisableCmd)
}

// shutterCmd drives a shutter to a position
var shutterCmd = &cobra.Command{
	Use:   "shutter",
	Short: "Drive a shutter to a position",
	Long:  `Drive a Runner shutter to a position between 0 (closed) and 100 (open).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
			if err := s.SetShutterPosition(ctx, shutterPosition); err != nil {
				return err
			}
			fmt.Printf("Shutter heading to %d%%.\n", shutterPosition)
			return nil
		})
	},
}

func init() {
	shutterCmd.Flags().IntVar(&shutterPosition, "position", 0, "Target position (0-100)")
}

// thermostatCmd controls a Breeze thermostat via its paired IR remote
var thermostatCmd = &cobra.Command{
	Use:   "thermostat",
	Short: "Control a Breeze thermostat",
	Long: `Control a Breeze thermostat. The desired setting is resolved to an
infrared code using the remote's catalog, downloaded on first use and
cached locally. The remote id is taken from the registry (stored during
scan) unless --remote is given.`,
	Example: `  # Cool to 24 degrees with medium fan
  switcherctl thermostat --device a1b2c3 --mode cool --temp 24 --fan medium

  # Turn the unit off
  switcherctl thermostat --device a1b2c3 --off`,
	RunE: runThermostat,
}

func init() {
	thermostatCmd.Flags().StringVar(&acRemote, "remote", "", "IR remote id (overrides the registry)")
	thermostatCmd.Flags().StringVar(&acMode, "mode", "cool", "Mode (auto, dry, fan, cool, heat)")
	thermostatCmd.Flags().IntVar(&acTemp, "temp", 0, "Target temperature")
	thermostatCmd.Flags().StringVar(&acFan, "fan", "auto", "Fan level (auto, low, medium, high)")
	thermostatCmd.Flags().BoolVar(&acSwing, "swing", false, "Enable louver swing")
	thermostatCmd.Flags().BoolVar(&acOff, "off", false, "Turn the unit off")
}

func runThermostat(cmd *cobra.Command, args []string) error {
	registry, err := config.LoadRegistry()
	if err != nil {
		return err
	}

	remoteID := acRemote
	if remoteID == "" {
		if entry := registry.GetDevice(deviceID); entry != nil {
			remoteID = entry.RemoteID
		}
	}
	if remoteID == "" {
		return fmt.Errorf("no remote id known for device %q; run a scan or pass --remote", deviceID)
	}

	cacheDir, err := registry.CatalogCacheDir()
	if err != nil {
		return err
	}
	catalog, err := breeze.NewCatalog(cacheDir, breeze.NewHTTPFetcher())
	if err != nil {
		return err
	}
	remote, err := catalog.Get(cmd.Context(), remoteID)
	if err != nil {
		return err
	}

	req := breeze.Request{State: device.StateOn, Temperature: acTemp}
	if acOff {
		req.State = device.StateOff
	}
	if req.Mode, err = parseMode(acMode); err != nil {
		return err
	}
	if req.Fan, err = parseFan(acFan); err != nil {
		return err
	}
	if acSwing {
		req.Swing = device.SwingOn
	}

	code, err := remote.Resolve(req)
	if err != nil {
		return err
	}

	return withSession(cmd.Context(), func(ctx context.Context, s *session.Session) error {
		if err := s.SendBreezeCommand(ctx, code); err != nil {
			return err
		}
		if remote.SeparatedSwingCommand() {
			swing := device.SwingOff
			if acSwing {
				swing = device.SwingOn
			}
			swingCode, err := remote.ResolveSwing(swing)
			if err != nil {
				return err
			}
			if err := s.SendBreezeCommand(ctx, swingCode); err != nil {
				return err
			}
		}
		fmt.Println("Command transmitted.")
		return nil
	})
}

// withSession resolves the target device, opens a session, runs fn, and
// guarantees the connection is closed.
func withSession(ctx context.Context, fn func(context.Context, *session.Session) error) error {
	target, addr, err := resolveTarget()
	if err != nil {
		return err
	}
	s, err := session.Dial(ctx, addr, target)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// resolveTarget builds the protocol target from flags, falling back to the
// registry for the address and key.
func resolveTarget() (protocol.Target, string, error) {
	if deviceID == "" {
		return protocol.Target{}, "", fmt.Errorf("--device is required")
	}

	addr, key := deviceIP, deviceKey
	if addr == "" || key == "" {
		registry, err := config.LoadRegistry()
		if err != nil {
			return protocol.Target{}, "", err
		}
		entry := registry.GetDevice(deviceID)
		if entry == nil {
			return protocol.Target{}, "", fmt.Errorf(
				"device %q not in the registry; run a scan or pass --ip and --key", deviceID)
		}
		if addr == "" {
			addr = entry.LastIP
		}
		if key == "" {
			key = entry.Key
		}
	}
	if addr == "" {
		return protocol.Target{}, "", fmt.Errorf("no address known for device %q", deviceID)
	}
	return protocol.Target{ID: deviceID, Key: key}, addr, nil
}

// parseDays maps comma-separated weekday names to schedule days.
func parseDays(value string) ([]schedule.Day, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	names := map[string]schedule.Day{
		"sunday": schedule.Sunday, "monday": schedule.Monday,
		"tuesday": schedule.Tuesday, "wednesday": schedule.Wednesday,
		"thursday": schedule.Thursday, "friday": schedule.Friday,
		"saturday": schedule.Saturday,
	}
	var days []schedule.Day
	for _, part := range strings.Split(value, ",") {
		day, ok := names[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", part)
		}
		days = append(days, day)
	}
	return days, nil
}

// parseClock maps "HH:MM" to a minute-of-day.
func parseClock(value string) (schedule.MinuteOfDay, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q (want HH:MM)", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid minute in %q", value)
	}
	return schedule.Clock(hour, minute), nil
}

func parseMode(value string) (device.ThermostatMode, error) {
	switch strings.ToLower(value) {
	case "auto":
		return device.ModeAuto, nil
	case "dry":
		return device.ModeDry, nil
	case "fan":
		return device.ModeFan, nil
	case "cool":
		return device.ModeCool, nil
	case "heat":
		return device.ModeHeat, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", value)
	}
}

func parseFan(value string) (device.ThermostatFanLevel, error) {
	switch strings.ToLower(value) {
	case "auto":
		return device.FanAuto, nil
	case "low":
		return device.FanLow, nil
	case "medium":
		return device.FanMedium, nil
	case "high":
		return device.FanHigh, nil
	default:
		return 0, fmt.Errorf("unknown fan level %q", value)
	}
}
