package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/whatsapp-automation/gateway/internal/api"
	"github.com/whatsapp-automation/gateway/internal/clock"
	"github.com/whatsapp-automation/gateway/internal/config"
	"github.com/whatsapp-automation/gateway/internal/dispatch"
	"github.com/whatsapp-automation/gateway/internal/jobs"
	"github.com/whatsapp-automation/gateway/internal/logging"
	"github.com/whatsapp-automation/gateway/internal/plugins"
	"github.com/whatsapp-automation/gateway/internal/registry"
	"github.com/whatsapp-automation/gateway/internal/session"
	"github.com/whatsapp-automation/gateway/internal/store"
	"github.com/whatsapp-automation/gateway/internal/telegram"
	"github.com/whatsapp-automation/gateway/internal/whatsapp"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and restore stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func banner(cfg *config.Config) {
	fmt.Println(color.CyanString(logo))
	row := func(k, v string) { fmt.Printf("  %s %s\n", color.New(color.Bold).Sprintf("%-16s", k), v) }
	row("Version", version)
	row("Port", strconv.Itoa(cfg.Port))
	row("Work type", cfg.WorkType)
	row("Prefix", cfg.Prefix)
	row("Database", cfg.DB.Driver)
	row("Max connections", strconv.Itoa(cfg.MaxConnections))
	if cfg.Proxy.Enabled {
		row("Proxy", color.YellowString(cfg.Proxy.String()))
	}
	if cfg.Telegram.Token != "" {
		row("Alerts", color.GreenString("telegram"))
	}
	fmt.Println()
}

func serve(ctx context.Context, cfg *config.Config) error {
	banner(cfg)

	logger := logging.New(cfg.Log.Level, cfg.Log.Format, nil)
	log := logrus.NewEntry(logger)
	clk := clock.Real()
	started := clk.Now()

	st, err := store.Open(cfg.DB, log.WithField("component", "store"))
	if err != nil {
		return err
	}
	defer st.Close()
	otps := store.NewOTPStore(ctx, cfg.Redis, st, log.WithField("component", "otp"))

	state, err := whatsapp.NewLocalState(cfg.SessionsDir)
	if err != nil {
		return err
	}
	var proxy *config.ProxyConfig
	if cfg.Proxy.Enabled {
		proxy = &cfg.Proxy
	}
	dialer := whatsapp.NewClientDialer(state, cfg.DeviceOS, proxy, log.WithField("component", "whatsapp"))

	reg := dispatch.NewRegistry()
	names, err := plugins.Register(reg, plugins.Deps{
		Warns:    st,
		Clock:    clk,
		Started:  started,
		WorkType: cfg.WorkType,
	})
	if err != nil {
		return fmt.Errorf("failed to register plugins: %w", err)
	}
	log.WithField("commands", len(names)).Info("Plugins loaded")

	dispatcher := dispatch.New(reg, st, dispatch.Options{
		Prefix:   cfg.Prefix,
		WorkType: cfg.WorkType,
		BotName:  cfg.BotName,
		Owners:   cfg.OwnerNumbers,
	}, log.WithField("component", "dispatch"))

	notifier := telegram.NewNotifier(cfg.Telegram, log.WithField("component", "telegram"))
	mgr := session.New(session.Config{
		Registry:     registry.New(cfg.MaxConnections, clk),
		Store:        st,
		State:        state,
		Dialer:       dialer,
		Dispatcher:   dispatcher,
		Alerter:      notifier,
		Clock:        clk,
		Log:          log.WithField("component", "session"),
		PairingDelay: cfg.Session.PairingDelay,
		Backoff: session.Backoff{
			Base:        cfg.Session.ReconnectBase,
			Max:         cfg.Session.ReconnectMax,
			MaxAttempts: cfg.Session.ReconnectAttempts,
		},
		BotName: cfg.BotName,
		Prefix:  cfg.Prefix,
	})

	scheduler, err := jobs.New(st, cfg.StatsRetentionDays, clk, log.WithField("component", "jobs"))
	if err != nil {
		return err
	}
	if err := scheduler.AddSessionSnapshots(mgr); err != nil {
		return err
	}
	scheduler.Start()

	srv := api.NewServer(api.Config{
		Sessions:     mgr,
		Store:        st,
		OTPs:         otps,
		Clock:        clk,
		Log:          log,
		OTPTTL:       cfg.OTPTTL,
		SweepSpacing: cfg.Session.SweepSpacing,
		Started:      started,
	})
	httpSrv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("port", cfg.Port).Info("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		restore(ctx, mgr, cfg.Session, clk, log)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		scheduler.Stop(sctx)
		mgr.Shutdown()
		notifier.Wait()
		return err
	})
	return g.Wait()
}

// restore reconnects every stored Number once the listener is up.
func restore(ctx context.Context, mgr *session.Manager, cfg config.SessionConfig, clk clock.Clock, log *logrus.Entry) {
	if err := clk.Sleep(ctx, cfg.StartupDelay); err != nil {
		return
	}
	outcomes, err := mgr.ReconnectAll(ctx, cfg.SweepSpacing)
	if err != nil {
		log.WithError(err).Error("Startup restore failed")
		return
	}
	failed := 0
	for _, o := range outcomes {
		if o.Error != "" {
			failed++
		}
	}
	log.WithFields(logrus.Fields{"total": len(outcomes), "failed": failed}).Info("Startup restore finished")
}
