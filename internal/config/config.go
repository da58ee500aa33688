// Package config assembles the runtime's tunable knobs into nested
// per-concern structs, the same shape the teacher's internal/config uses:
// a DefaultConfig() constructor, a flag-based ParseArgs entry point, and
// small validateX(raw) (T, error) functions per flag.
package config

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/gofrs/uuid/v5"
)

// HTTPTimeoutsConfig bounds the local HTTP surface's request lifecycle.
type HTTPTimeoutsConfig struct {
	Read     time.Duration
	Idle     time.Duration
	Write    time.Duration
	Shutdown time.Duration
}

// HTTPConfig holds the device/control-point HTTP surface's knobs.
type HTTPConfig struct {
	Addr     string
	Timeouts HTTPTimeoutsConfig
}

// DeviceConfig describes the device this runtime advertises (spec.md §3,
// §6).
type DeviceConfig struct {
	FriendlyName string
	UDN          string // "uuid:..."; generated if empty
	DeviceType   string
	BaseURL      string
}

// DiscoveryConfig holds the SSDP knobs shared by both the device and
// control-point sides (spec.md §4.3, §4.4).
type DiscoveryConfig struct {
	// Netmask gates which peers an M-SEARCH reply or discovery GET is
	// allowed to reach; empty resolves to the local address's class
	// (spec.md §9 "discovery netmask default").
	Netmask string

	SearchTarget string // control-point outbound search target, default "ssdp:all"
	MinWait      time.Duration
	MaxWait      time.Duration
	MX           int // seconds a device may take to reply

	MSearchReplyRPS   float64
	MSearchReplyBurst int

	AllowLocalhost bool
}

// SchedulerConfig holds the repeating-task cadences spec.md §4.1/§4.3
// names.
type SchedulerConfig struct {
	PostAliveRepeat time.Duration // 0 = one-shot
	MSearchRepeat   time.Duration
}

// SubscriptionConfig holds GENA eventing knobs (spec.md §4.6).
type SubscriptionConfig struct {
	DefaultLease time.Duration
	CallbackPath string

	// MaxDescriptionBytes bounds a control point's fetch of a device
	// description document.
	MaxDescriptionBytes int64
}

// LogConfig controls the structured logger's verbosity.
type LogConfig struct {
	Level slog.Level
}

// Config is the runtime's full set of tunables, assembled the way the
// teacher's Config struct nests HTTP/Media/ShutdownTimers/Logger.
type Config struct {
	HTTP         HTTPConfig
	Device       DeviceConfig
	Discovery    DiscoveryConfig
	Scheduler    SchedulerConfig
	Subscription SubscriptionConfig
	Logger       LogConfig
}

const defaultDescriptionBudget = 1 << 20 // 1MB

// DefaultConfig returns the knob values spec.md §6 names as defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr: ":8200",
			Timeouts: HTTPTimeoutsConfig{
				Read:     5 * time.Second,
				Idle:     30 * time.Second,
				Write:    30 * time.Second,
				Shutdown: 5 * time.Second,
			},
		},
		Device: DeviceConfig{
			FriendlyName: "Go UPnP Device",
			UDN:          "",
			DeviceType:   "urn:schemas-upnp-org:device:MediaServer:1",
			BaseURL:      "",
		},
		Discovery: DiscoveryConfig{
			Netmask:           "",
			SearchTarget:      "ssdp:all",
			MinWait:           500 * time.Millisecond,
			MaxWait:           5 * time.Second,
			MX:                3,
			MSearchReplyRPS:   1,
			MSearchReplyBurst: 4,
			AllowLocalhost:    false,
		},
		Scheduler: SchedulerConfig{
			PostAliveRepeat: 0,
			MSearchRepeat:   10 * time.Second,
		},
		Subscription: SubscriptionConfig{
			DefaultLease:        30 * time.Minute,
			CallbackPath:        "/events",
			MaxDescriptionBytes: defaultDescriptionBudget,
		},
		Logger: LogConfig{
			Level: slog.LevelInfo,
		},
	}
}

// ParseArgs fills cfg from args, validating every flag with its
// corresponding validateX function before returning.
func ParseArgs(cfg *Config, args []string, stderr io.Writer) error {
	defaultCfg := DefaultConfig()

	fs := flag.NewFlagSet("upnpdemo", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [options]\n\n", fs.Name())
		fmt.Fprintln(fs.Output(), "An embeddable DLNA/UPnP device and control point.")
		fmt.Fprintln(fs.Output(), "\nOptions:")
		fs.PrintDefaults()
	}

	fs.StringVar(&cfg.HTTP.Addr, "http.addr", defaultCfg.HTTP.Addr, "http address to listen on")

	fs.StringVar(&cfg.Device.FriendlyName, "device.friendlyName", defaultCfg.Device.FriendlyName, "DLNA device name (max 64 chars)")
	fs.StringVar(&cfg.Device.UDN, "device.udn", defaultCfg.Device.UDN, "device UDN (unique identifier). Generated randomly on startup if empty.")
	fs.StringVar(&cfg.Device.DeviceType, "device.type", defaultCfg.Device.DeviceType, "device type URN")
	fs.StringVar(&cfg.Device.BaseURL, "device.baseURL", defaultCfg.Device.BaseURL, "device base URL (protocol://host:port); must not be localhost")

	fs.StringVar(&cfg.Discovery.Netmask, "discovery.netmask", defaultCfg.Discovery.Netmask, "discovery subnet mask; empty resolves to the local address's class")
	fs.StringVar(&cfg.Discovery.SearchTarget, "discovery.searchTarget", defaultCfg.Discovery.SearchTarget, "control point outbound search target")
	fs.DurationVar(&cfg.Discovery.MinWait, "discovery.minWait", defaultCfg.Discovery.MinWait, "minimum control point discovery window")
	fs.DurationVar(&cfg.Discovery.MaxWait, "discovery.maxWait", defaultCfg.Discovery.MaxWait, "maximum control point discovery window")
	fs.IntVar(&cfg.Discovery.MX, "discovery.mx", defaultCfg.Discovery.MX, "MX seconds advertised on outbound M-SEARCH")
	fs.Float64Var(&cfg.Discovery.MSearchReplyRPS, "discovery.replyRPS", defaultCfg.Discovery.MSearchReplyRPS, "per-peer M-SEARCH reply rate limit")
	fs.IntVar(&cfg.Discovery.MSearchReplyBurst, "discovery.replyBurst", defaultCfg.Discovery.MSearchReplyBurst, "per-peer M-SEARCH reply burst size")
	fs.BoolVar(&cfg.Discovery.AllowLocalhost, "discovery.allowLocalhost", defaultCfg.Discovery.AllowLocalhost, "allow discovering devices advertising a localhost base URL (testing only)")

	fs.DurationVar(&cfg.Scheduler.PostAliveRepeat, "scheduler.postAliveRepeat", defaultCfg.Scheduler.PostAliveRepeat, "device re-announcement cadence (0 = announce once at startup)")
	fs.DurationVar(&cfg.Scheduler.MSearchRepeat, "scheduler.msearchRepeat", defaultCfg.Scheduler.MSearchRepeat, "control point M-SEARCH repeat cadence during discovery")

	fs.DurationVar(&cfg.Subscription.DefaultLease, "subscription.defaultLease", defaultCfg.Subscription.DefaultLease, "default GENA subscription lease duration")
	fs.StringVar(&cfg.Subscription.CallbackPath, "subscription.callbackPath", defaultCfg.Subscription.CallbackPath, "local path the control point's NOTIFY callback listens on")

	var maxDescriptionStr string
	fs.StringVar(&maxDescriptionStr, "subscription.maxDescriptionSize", "1MB", "max size of a fetched device description document (e.g. 512KB, 2MB)")

	var logLevelStr string
	fs.StringVar(&logLevelStr, "logger.level", "info", "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	friendlyName, err := validateFriendlyName(cfg.Device.FriendlyName)
	if err != nil {
		return err
	}
	cfg.Device.FriendlyName = friendlyName

	udn, err := validateUDN(cfg.Device.UDN)
	if err != nil {
		return err
	}
	cfg.Device.UDN = udn

	if err := validateNotLocalhost(cfg.Device.BaseURL); err != nil {
		return err
	}

	level, err := validateLoggerLevel(logLevelStr)
	if err != nil {
		return err
	}
	cfg.Logger.Level = level

	maxDescriptionBytes, err := parseBytes(maxDescriptionStr)
	if err != nil {
		return fmt.Errorf("invalid subscription.maxDescriptionSize: %w", err)
	}
	cfg.Subscription.MaxDescriptionBytes = maxDescriptionBytes

	if err := validateWaitWindow(cfg.Discovery.MinWait, cfg.Discovery.MaxWait); err != nil {
		return err
	}

	return nil
}

func validateFriendlyName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("device name cannot be empty")
	}
	if len(name) > 64 {
		return "", fmt.Errorf("device name too long (max 64 chars, got %d)", len(name))
	}
	return name, nil
}

// validateUDN parses or generates the device UDN (spec.md §3, §6), the
// same "uuid:" prefixing convention the teacher's validateUUID uses for
// the media server's identifier.
func validateUDN(udnStr string) (string, error) {
	if udnStr != "" {
		clean := strings.TrimPrefix(udnStr, "uuid:")
		id, err := uuid.FromString(clean)
		if err != nil {
			return "", fmt.Errorf("failed to parse UDN %q: %w", udnStr, err)
		}
		return "uuid:" + id.String(), nil
	}
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate UDN: %w", err)
	}
	return "uuid:" + id.String(), nil
}

func validateNotLocalhost(baseURL string) error {
	if strings.Contains(baseURL, "localhost") {
		return fmt.Errorf("device.baseURL must not contain \"localhost\"; bind to a concrete interface address")
	}
	return nil
}

func validateWaitWindow(minWait, maxWait time.Duration) error {
	if minWait < 0 || maxWait < 0 {
		return fmt.Errorf("discovery wait windows cannot be negative")
	}
	if minWait > maxWait {
		return fmt.Errorf("discovery.minWait (%s) cannot exceed discovery.maxWait (%s)", minWait, maxWait)
	}
	return nil
}

func validateLoggerLevel(logLevelStr string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevelStr)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", logLevelStr, err)
	}
	return level, nil
}

// parseBytes parses a human-sized byte quantity like "512KB" or "10MB".
func parseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.ToUpper(s)

	i := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})

	if i == -1 {
		return strconv.ParseInt(s, 10, 64)
	}

	numericStr := s[:i]
	unitStr := strings.TrimSpace(s[i:])

	val, err := strconv.ParseFloat(numericStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte string: %w", err)
	}

	var multiplier float64
	switch unitStr {
	case "B":
		multiplier = 1
	case "KB":
		multiplier = 1024
	case "MB":
		multiplier = 1024 * 1024
	case "GB":
		multiplier = 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unknown unit %q (expected B, KB, MB, GB)", unitStr)
	}

	return int64(val * multiplier), nil
}
