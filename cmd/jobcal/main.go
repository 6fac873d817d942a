package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/robfig/cron/v3"

	"jobcal/internal/cache"
	"jobcal/internal/config"
	"jobcal/internal/ics"
	"jobcal/internal/live"
	appLog "jobcal/internal/log"
	"jobcal/internal/push"
	"jobcal/internal/store"
	"jobcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	watch      bool
	debug      bool
	user       string
	password   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := appLog.Init(conf.Env); err != nil {
		appLog.Error("failed to init logger", err, "env", conf.Env)
		os.Exit(1)
	}
	defer appLog.Sync()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Info("jobcal starting", "version", "0.1.0", "config", conf.String(),
		"once", flags.once, "watch", flags.watch)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case flags.watch:
		err = runWatch(ctx, conf, flags)
	case flags.once:
		err = runOnce(ctx, conf)
	default:
		err = runServe(ctx, conf)
	}
	if err != nil {
		appLog.Error("jobcal failed", err)
		os.Exit(1)
	}
	appLog.Info("jobcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/jobcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Import every ICS source once and exit")
	flag.BoolVar(&cfg.watch, "watch", false, "Subscribe to live events and print notifications")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.StringVar(&cfg.user, "user", "", "Live-event username (defaults to basic_auth.username)")
	flag.StringVar(&cfg.password, "password", "", "Live-event password (defaults to basic_auth.password)")

	flag.Parse()

	return cfg
}

func newImporter(conf *config.Config, db *store.DB) *ics.Importer {
	if len(conf.ICS) == 0 {
		return nil
	}
	sources := make([]ics.Source, 0, len(conf.ICS))
	for _, s := range conf.ICS {
		sources = append(sources, ics.Source{ID: s.ID, URL: s.URL, Status: s.Status})
	}
	return &ics.Importer{
		Fetcher:  ics.NewFetcher(conf.CacheDir),
		Sink:     db,
		Sources:  sources,
		Location: conf.Location(),
		Backfill: 7 * 24 * time.Hour,
		Horizon:  time.Duration(conf.HorizonDays) * 24 * time.Hour,
	}
}

func runOnce(ctx context.Context, conf *config.Config) error {
	db, err := store.New(conf.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	im := newImporter(conf, db)
	if im == nil {
		appLog.Info("no ICS sources configured")
		return nil
	}
	_, err = im.Sync(ctx)
	return err
}

func runServe(ctx context.Context, conf *config.Config) error {
	db, err := store.New(conf.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	broker := push.NewBroker(conf.Live.Buffer)
	srv := web.NewServer(conf, db, broker, newImporter(conf, db))

	c := cron.New()
	if err := push.ScheduleHeartbeat(c, conf.Live.PingCron, broker); err != nil {
		return err
	}
	if len(conf.ICS) > 0 {
		if _, err := c.AddFunc(conf.ICSRefreshCron, func() {
			if _, err := srv.RefreshICS(ctx); err != nil {
				appLog.Error("scheduled ICS refresh failed", err)
			}
		}); err != nil {
			return err
		}
		// Initial import in the background so the API comes up immediately.
		go func() {
			if _, err := srv.RefreshICS(ctx); err != nil {
				appLog.Error("initial ICS refresh failed", err)
			}
		}()
	}
	c.Start()
	defer func() { <-c.Stop().Done() }()

	return srv.StartServer(ctx)
}

// runWatch is a terminal client of the live channel: it logs in, prints
// every notification and acknowledges handled events until interrupted or
// the server hangs up.
func runWatch(ctx context.Context, conf *config.Config, flags flagConfig) error {
	cred := live.Credentials{Username: flags.user, Password: flags.password}
	if conf.BasicAuth != nil {
		if cred.Username == "" {
			cred.Username = conf.BasicAuth.Username
		}
		if cred.Password == "" {
			cred.Password = conf.BasicAuth.Password
		}
	}

	sess := live.NewSession(live.Options{
		StreamURL: conf.Live.StreamURL,
		Cache:     cache.New(0),
		Notifier:  live.NewWriterNotifier(os.Stdout),
		Acks:      live.HTTPAcks(conf.Live.AckURL, conf.Live.AckTimeout),
	})
	if err := sess.Login(ctx, cred); err != nil {
		return err
	}
	appLog.Info("watching live events", "stream", conf.Live.StreamURL, "user", cred.Username)

	select {
	case <-ctx.Done():
	case <-sess.Done():
		appLog.Info("live stream ended by server")
	}
	// Close stops the reader, then lets in-flight acknowledgments finish.
	return sess.Close()
}
