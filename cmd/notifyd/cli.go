package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"notifyd/internal/client"
	"notifyd/internal/config"
	"notifyd/internal/daemon"
	"notifyd/internal/journal"
	"notifyd/internal/lifecycle"
	logx "notifyd/pkg/logx"
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "notifyd",
		Usage:   "Audio notification coordinator",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Config file path"},
		},
		Commands: []*cli.Command{
			runCmd(),
			startCmd(),
			stopCmd(),
			statusCmd(),
			sendCmd(),
		},
	}
}

func loadConfig(c *cli.Context) (*config.Manager, *config.Config, error) {
	path := config.ResolvePath(c.String("config"))
	mgr := config.NewManager(path)
	cfg, err := mgr.LoadOrDefault()
	if err != nil {
		return nil, nil, err
	}
	return mgr, cfg, nil
}

// runCmd is the foreground daemon, used directly by systemd (Type=notify)
// and as the detached child of `start`.
func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the daemon in the foreground",
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			mgr, cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			logSvc, log := logx.New(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			defer logSvc.Close()
			mgr.SetLogger(log)

			var store journal.Store
			if jc, err := cfg.Journal.Resolve(); err == nil && jc.Driver != "" {
				store, err = journal.Open(jc, log.With(logx.String("component", "journal")))
				if err != nil {
					log.Warn("journal unavailable, continuing without", logx.Err(err))
				}
			}

			svc, err := daemon.New(daemon.Options{
				Manager: mgr,
				Logger:  log,
				LogSvc:  logSvc,
				Store:   store,
			})
			if err != nil {
				return err
			}
			return svc.Run(ctx)
		},
	}
}

func startCmd() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start the daemon in the background (idempotent)",
		Action: func(c *cli.Context) error {
			_, cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			m := lifecycle.NewManager(cfg, c.String("config"), logx.NewConsole(cfg.Logging.Level))
			err = m.Start(c.Context)
			if errors.Is(err, lifecycle.ErrAlreadyRunning) {
				return cli.Exit("notifyd: already running", 2)
			}
			if err != nil {
				return err
			}
			fmt.Println("notifyd: started")
			return nil
		},
	}
}

func stopCmd() *cli.Command {
	return &cli.Command{
		Name:  "stop",
		Usage: "Drain and stop the running daemon",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "grace", Value: lifecycle.StopGrace, Usage: "How long to wait for a graceful drain"},
		},
		Action: func(c *cli.Context) error {
			_, cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			m := lifecycle.NewManager(cfg, c.String("config"), logx.NewConsole(cfg.Logging.Level))
			err = m.Stop(c.Context, c.Duration("grace"))
			if errors.Is(err, lifecycle.ErrNotRunning) {
				return cli.Exit("notifyd: not running", 1)
			}
			if err != nil {
				return err
			}
			fmt.Println("notifyd: stopped")
			return nil
		},
	}
}

func statusCmd() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print daemon state and counters as JSON",
		Action: func(c *cli.Context) error {
			_, cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			m := lifecycle.NewManager(cfg, c.String("config"), logx.Nop())
			stats, err := m.Status()
			if errors.Is(err, lifecycle.ErrNotRunning) {
				return cli.Exit("notifyd: not running", 1)
			}
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

// sendCmd is the producer entrypoint hooks call. It returns as soon as the
// daemon acks; it never waits for playback.
func sendCmd() *cli.Command {
	return &cli.Command{
		Name:      "send",
		Usage:     "Send one notification (falls back to local playback if the daemon is down)",
		ArgsUsage: "<text>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "priority", Aliases: []string{"p"}, Value: "normal", Usage: "background|low|normal|high|critical|interrupt"},
			&cli.StringFlag{Name: "category", Usage: "Rate-limit category (default: general)"},
			&cli.StringFlag{Name: "source", Usage: "Producer identifier"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("notifyd: text argument required", 1)
			}
			_, cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			cl, err := client.New(cfg, logx.Nop())
			if err != nil {
				return err
			}
			res, err := cl.Notify(c.Args().First(), c.String("priority"), c.String("category"), c.String("source"))
			if err != nil {
				return err
			}
			out := map[string]any{
				"delivered": res.Delivered,
				"fallback":  res.Fallback,
				"muted":     res.Muted,
			}
			if res.Response != nil {
				if res.Response.ID != "" {
					out["id"] = res.Response.ID
					out["sequence"] = res.Response.Sequence
				}
				if res.Response.Reason != "" {
					out["reason"] = res.Response.Reason
				}
			}
			if err := printJSON(out); err != nil {
				return err
			}
			if res.Response != nil && res.Response.Reason != "" {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
