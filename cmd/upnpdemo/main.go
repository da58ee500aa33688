// Command upnpdemo wires a device runtime and a control point runtime
// together over the in-memory transport and drives both cooperative
// loops until interrupted, demonstrating discovery, SOAP dispatch, and
// GENA eventing end to end without any real socket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loopcast/updpnp/internal/config"
	"github.com/loopcast/updpnp/internal/controlpoint"
	"github.com/loopcast/updpnp/internal/description"
	"github.com/loopcast/updpnp/internal/device"
	"github.com/loopcast/updpnp/internal/soap"
	"github.com/loopcast/updpnp/internal/transport"
	"github.com/loopcast/updpnp/internal/transport/memory"
)

const (
	deviceIP       = "10.0.0.5"
	devicePort     = 1900
	controlPointIP = "10.0.0.9"
	controlPort    = 1901
)

// App owns the wired device and control point runtimes and their shared
// in-memory transport, the same App/NewApp/Run shape the teacher's
// cmd/server/server.go uses for its HTTP server.
type App struct {
	logger *slog.Logger
	cfg    *config.Config

	deviceRuntime *device.Runtime
	cpRuntime     *controlpoint.Runtime
}

func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	dev := buildDevice(cfg)

	bus := memory.NewBus()
	deviceUDP := bus.Attach(transport.Address{IP: deviceIP, Port: devicePort})
	cpUDP := bus.Attach(transport.Address{IP: controlPointIP, Port: controlPort})

	deviceRouter := memory.NewRouter()
	cpRouter := memory.NewRouter()
	client := memory.NewClient(deviceRouter)

	deviceCfg := device.DefaultConfig()
	deviceCfg.PostAliveRepeatMs = cfg.Scheduler.PostAliveRepeat.Milliseconds()
	deviceCfg.DiscoveryNetmask = cfg.Discovery.Netmask
	deviceCfg.MSearchReplyRPS = cfg.Discovery.MSearchReplyRPS
	deviceCfg.MSearchReplyBurst = cfg.Discovery.MSearchReplyBurst

	deviceRuntime := device.NewRuntime(dev, deviceUDP, deviceRouter, deviceCfg, logger, 0)
	deviceRuntime.RegisterAction(dev.Services[0].ServiceType, "Browse", demoBrowse)

	cpCfg := controlpoint.DefaultConfig()
	cpCfg.SearchTarget = cfg.Discovery.SearchTarget
	cpCfg.MinWaitMs = cfg.Discovery.MinWait.Milliseconds()
	cpCfg.MaxWaitMs = cfg.Discovery.MaxWait.Milliseconds()
	cpCfg.MX = cfg.Discovery.MX
	cpCfg.MSearchRepeatMs = cfg.Scheduler.MSearchRepeat.Milliseconds()
	cpCfg.DiscoveryNetmask = cfg.Discovery.Netmask
	cpCfg.AllowLocalhost = cfg.Discovery.AllowLocalhost
	cpCfg.CallbackPath = cfg.Subscription.CallbackPath
	cpCfg.LocalCallbackURL = "http://" + controlPointIP + ":8080" + cfg.Subscription.CallbackPath
	cpCfg.MaxDescriptionBytes = cfg.Subscription.MaxDescriptionBytes

	cpRuntime := controlpoint.NewRuntime(cpUDP, cpRouter, client, cpCfg, logger)
	cpRuntime.OnEvent(func(sid, varName, value string) {
		logger.Info("event received", "sid", sid, "var", varName, "value", value)
	})

	return &App{
		logger:        logger,
		cfg:           cfg,
		deviceRuntime: deviceRuntime,
		cpRuntime:     cpRuntime,
	}, nil
}

func buildDevice(cfg *config.Config) *description.Device {
	baseURL := cfg.Device.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", deviceIP, devicePort)
	}
	return &description.Device{
		UDN:                  cfg.Device.UDN,
		FriendlyName:         cfg.Device.FriendlyName,
		BaseURL:              baseURL,
		DescriptionPath:      "/device.xml",
		DeviceType:           cfg.Device.DeviceType,
		SpecVersion:          description.DefaultSpecVersion,
		SubscriptionsEnabled: true,
		Services: []description.Service{
			{
				ServiceType: "urn:schemas-upnp-org:service:ContentDirectory:1",
				ServiceID:   "urn:upnp-org:serviceId:ContentDirectory",
				SCPDURL:     "/cd/scpd.xml",
				ControlURL:  "/cd/control",
				EventSubURL: "/cd/event",
			},
		},
	}
}

func demoBrowse(args []soap.Arg) ([]soap.Arg, error) {
	var objectID string
	for _, a := range args {
		if a.Name == "ObjectID" {
			objectID = a.Value
		}
	}
	result := `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"></DIDL-Lite>`
	return []soap.Arg{
		{Name: "Result", Value: result},
		{Name: "NumberReturned", Value: "0"},
		{Name: "TotalMatches", Value: "0"},
		{Name: "UpdateID", Value: "0"},
		{Name: "Echo", Value: objectID},
	}, nil
}

// Run drives both cooperative loops once per tick until ctx is canceled,
// then emits byebye and drains outstanding schedules before returning.
func (a *App) Run(ctx context.Context) error {
	const tick = 50 * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	start := time.Now()
	nowMs := func() int64 { return time.Since(start).Milliseconds() }

	a.cpRuntime.Begin(nowMs())
	a.logger.Info("upnpdemo running", "friendlyName", a.cfg.Device.FriendlyName, "udn", a.cfg.Device.UDN)

	for {
		select {
		case <-ctx.Done():
			now := nowMs()
			a.deviceRuntime.Shutdown(now)
			if err := a.cpRuntime.End(now); err != nil {
				return fmt.Errorf("end control point: %w", err)
			}
			a.logger.Info("upnpdemo stopped")
			return nil
		case <-ticker.C:
			now := nowMs()
			if err := a.deviceRuntime.Loop(now); err != nil {
				a.logger.Warn("device loop error", "error", err)
			}
			done, err := a.cpRuntime.Loop(now)
			if err != nil {
				a.logger.Warn("control point loop error", "error", err)
			}
			if done {
				a.logger.Info("discovery window complete", "devices", a.cpRuntime.Registry().Len())
			}
		}
	}
}

func main() {
	stderr := os.Stderr

	cfg := config.DefaultConfig()
	if err := config.ParseArgs(cfg, os.Args[1:], stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logHandler := slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.Logger.Level})
	logger := slog.New(logHandler).With("app", "upnpdemo")

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Error("initialization failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}
