package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"crmcal/internal/config"
	"crmcal/internal/logging"
	"crmcal/internal/remind"
	"crmcal/internal/store"
	"crmcal/internal/view"
	"crmcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
	memory     bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		bootLog := logging.New("info")
		bootLog.Fatal().Err(err).Str("config_path", flags.configPath).Msg("failed to load config")
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.memory {
		conf.Store.Driver = "memory"
	}

	log := logging.New(conf.LogLevel)
	log.Info().Str("version", version).Msg("crmcal starting")

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", conf.Timezone).Msg("failed to load timezone, using local")
		loc = time.Local
	}

	log.Info().
		Str("listen", conf.Listen).
		Str("timezone", loc.String()).
		Str("default_view", conf.DefaultView).
		Str("store_driver", conf.Store.Driver).
		Bool("reminders", conf.Reminders.Enabled).
		Msg("effective config")

	if err := run(conf, flags.configPath, loc, log); err != nil {
		log.Fatal().Err(err).Msg("crmcal failed")
	}
	log.Info().Msg("crmcal exiting")
}

func run(conf *config.Config, configPath string, loc *time.Location, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("signal received, shutting down")
		cancel()
	}()

	st, err := openStore(conf, log)
	if err != nil {
		return err
	}
	defer st.Close()

	ctrl := view.NewController(st, view.Mode(conf.DefaultView), time.Now().In(loc), loc, conf.AgendaDays, log)

	// Reminder permission follows config hot reloads.
	var remindersEnabled atomic.Bool
	remindersEnabled.Store(conf.Reminders.Enabled)

	scheduler := remind.NewScheduler(logNotifier{log: log}, remindersEnabled.Load, log)
	defer scheduler.Stop()

	ctrl.SetOnOccurrences(scheduler.Reschedule)

	unsubscribe := st.Subscribe(ctrl.SetMasters, func(err error) {
		log.Error().Err(err).Msg("store subscription error")
	})
	defer unsubscribe()

	// Initial load; later changes arrive through the subscription.
	masters, err := st.ListMasters(ctx)
	if err != nil {
		return err
	}
	ctrl.SetMasters(masters)
	log.Info().Int("masters", len(masters)).Msg("initial load complete")

	// Midnight rollover keeps "today" current; the refresh schedule
	// re-expands the window so reminder timers stay aligned with wall time.
	cr := cron.New(cron.WithLocation(loc))
	if _, err := cr.AddFunc("0 0 * * *", func() {
		log.Info().Msg("midnight rollover")
		ctrl.Today(time.Now().In(loc))
	}); err != nil {
		return err
	}
	if _, err := cr.AddFunc(conf.RefreshCron, func() {
		ctrl.Navigate(0)
	}); err != nil {
		return err
	}
	cr.Start()
	defer func() { <-cr.Stop().Done() }()

	watcher, err := config.Watch(configPath, func(next *config.Config) {
		remindersEnabled.Store(next.Reminders.Enabled)
		// Trigger rescheduling under the new permission state.
		ctrl.Navigate(0)
		if next.Listen != conf.Listen || next.Store.Driver != conf.Store.Driver || next.Store.Path != conf.Store.Path {
			log.Warn().Msg("listen/store changes require a restart")
		}
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("config hot reload unavailable")
	} else {
		defer watcher.Close()
	}

	srv := newHTTPServer(conf, st, ctrl, loc, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen", "http://"+conf.Listen).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	return nil
}

func openStore(conf *config.Config, log zerolog.Logger) (store.Store, error) {
	switch conf.Store.Driver {
	case "memory":
		log.Warn().Msg("using in-memory store; events are lost on exit")
		return store.NewMemory(), nil
	default:
		return store.OpenSQLite(store.SQLiteConfig{
			Path:        conf.Store.Path,
			BusyTimeout: time.Duration(conf.Store.BusyTimeoutMS) * time.Millisecond,
		}, log)
	}
}

// logNotifier delivers reminders to the log. A desktop or push transport can
// replace it without touching the scheduler.
type logNotifier struct {
	log zerolog.Logger
}

func (n logNotifier) Show(title string, notif remind.Notification) {
	n.log.Info().
		Str("title", title).
		Str("body", notif.Body).
		Str("dedupe_key", notif.DedupeKey).
		Msg("reminder")
}

var _ remind.Notifier = logNotifier{}

func newHTTPServer(conf *config.Config, st store.Store, ctrl *view.Controller, loc *time.Location, log zerolog.Logger) *http.Server {
	api := web.NewServer(st, ctrl, loc, conf.BasicAuth, log)
	return &http.Server{
		Addr:              conf.Listen,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func parseFlags() flagConfig {
	var fc flagConfig

	flag.StringVar(&fc.configPath, "config", "/etc/crmcal/config.yaml", "Path to config file")
	flag.StringVar(&fc.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&fc.memory, "memory", false, "Use the in-memory store regardless of config")

	flag.Parse()

	return fc
}
