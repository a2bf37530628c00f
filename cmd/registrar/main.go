package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/expoarte/registrar/internal/analytics"
	"github.com/expoarte/registrar/internal/api"
	"github.com/expoarte/registrar/internal/config"
	"github.com/expoarte/registrar/internal/cron"
	"github.com/expoarte/registrar/internal/digest"
	"github.com/expoarte/registrar/internal/dispatcher"
	"github.com/expoarte/registrar/internal/ledger/document"
	ledgerpg "github.com/expoarte/registrar/internal/ledger/postgres"
	"github.com/expoarte/registrar/internal/metrics"
	"github.com/expoarte/registrar/internal/reconciler"
	"github.com/expoarte/registrar/internal/transport/channel"
	"github.com/expoarte/registrar/internal/workflow"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	// Local development convenience; missing .env is fine.
	if err := godotenv.Load(); err == nil {
		log.Println("registrar: loaded environment from .env")
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`registrar - exhibitor registration service

Usage:
  registrar <command>

Commands:
  serve      Start the registration HTTP server and notification pipeline
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  LEDGER_BACKEND            Submission store: "document" or "postgres" (default: "document")
  LEDGER_PATH               Document store path (default: "data/submissions.json")
  LEDGER_QUEUE_SIZE         Document store write queue size (default: "64")
  DATABASE_URL              PostgreSQL connection string (required for postgres backend)
  REDIS_ADDR                Redis address for submission analytics (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080", falls back to PORT)

  SMTP_HOST                 SMTP server host (required)
  SMTP_PORT                 SMTP server port (default: "587")
  SMTP_USER                 SMTP username (optional)
  SMTP_PASS                 SMTP password (optional)
  SMTP_TIMEOUT              SMTP dial/send timeout (default: "30s")
  MAIL_FROM                 Sender address (default: SMTP_USER)
  ADMIN_EMAIL               Admin notification recipient (required)

  REDIRECT_STAGE2           Redirect after stage 1 (default: "/stage2.html")
  REDIRECT_STAGE3           Redirect after stage 2 (default: "/stage3.html")
  REDIRECT_DONE             Redirect after stage 3 (default: "/index.html?success=true")

  EVENTBUS_BUFFER_SIZE      Completion event buffer size (default: "100")
  CIRCUIT_BREAKER_THRESHOLD Consecutive mail failures before opening ("0" disables, default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Time before a probe send is allowed (default: "2m")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DISPATCHER_DRAIN_TIMEOUT  Notification drain timeout on shutdown (default: "30s")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")

  DIGEST_ENABLED            Enable the admin digest mail (default: "false")
  DIGEST_SCHEDULE           Digest cron expression (default: "0 8 * * *")
  DIGEST_TIMEZONE           Digest timezone (default: "UTC")

  RECONCILE_ENABLED         Enable the stale registration scan (default: "false")
  RECONCILE_INTERVAL        How often to scan the ledger (default: "1h")
  RECONCILE_THRESHOLD       Inactivity age before a registration is stale (default: "24h")

  DB_OP_TIMEOUT             Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME      Max connection lifetime (default: "30m")
  ANALYTICS_RETENTION       Redis analytics key retention (default: "720h")`)
}

// ledgerHandle bundles whichever backend is active with its lifecycle hooks.
type ledgerHandle struct {
	store   workflow.Ledger
	loader  digest.Ledger
	health  api.HealthChecker
	stop    func()
	closeFn func()
}

func runServe() int {
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	logConfigWarnings(&cfg)

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	var metricsServer *http.Server

	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("registrar: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("registrar: metrics server listening on :%s", cfg.MetricsPort)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("registrar: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("registrar: METRICS_ENABLED not set; metrics disabled")
	}

	ledger, err := openLedger(cfg, metricsSink)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open ledger: %v\n", err)
		return exitRuntimeError
	}
	defer ledger.closeFn()

	mailer, err := dispatcher.NewSMTPMailer(dispatcher.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.MailFrom,
		Timeout:  cfg.SMTPTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build smtp mailer: %v\n", err)
		return exitRuntimeError
	}

	// Create event bus with optional metrics
	var busOpts []channel.Option
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	controller := workflow.New(ledger.store, bus)
	if metricsSink != nil {
		controller = controller.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		controller = controller.WithAnalytics(analytics.NewRedisSink(redisClient, cfg.AnalyticsRetention))
		log.Printf("registrar: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("registrar: REDIS_ADDR not set; analytics disabled")
	}

	disp := dispatcher.New(dispatcher.Config{AdminRecipient: cfg.AdminEmail}, ledger.store, mailer).
		WithBreaker(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown).
		WithDrainTimeout(cfg.DispatcherDrainTimeout)
	if metricsSink != nil {
		disp = disp.WithMetrics(metricsSink)
	}

	apiHandler := api.NewHandler(controller, api.Redirects{
		Stage2: cfg.RedirectStage2,
		Stage3: cfg.RedirectStage3,
		Done:   cfg.RedirectDone,
	}).WithHealthChecker(ledger.health)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("registrar: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("registrar: http server error: %v", err)
		}
	}()

	// Separate contexts per component so shutdown can be ordered.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())

	var dispatcherWg sync.WaitGroup
	var backgroundWg sync.WaitGroup
	var cancelBackground context.CancelFunc

	dispatcherWg.Add(1)
	go func() {
		defer dispatcherWg.Done()
		disp.Run(dispatcherCtx, bus.Channel())
	}()

	var backgroundCtx context.Context
	if cfg.DigestEnabled || cfg.ReconcileEnabled {
		backgroundCtx, cancelBackground = context.WithCancel(context.Background())
	}

	if cfg.DigestEnabled {
		sched, err := cron.Parse(cfg.DigestSchedule, cfg.DigestTimezone)
		if err != nil {
			// Validate() already vetted the expression; treat as fatal anyway.
			fmt.Fprintf(os.Stderr, "failed to parse digest schedule: %v\n", err)
			cancelBackground()
			cancelDispatcher()
			return exitInvalidConfig
		}
		dig := digest.New(digest.Config{Recipient: cfg.AdminEmail}, ledger.loader, mailer, sched)
		if metricsSink != nil {
			dig = dig.WithMetrics(metricsSink)
		}
		backgroundWg.Add(1)
		go func() {
			defer backgroundWg.Done()
			_ = dig.Run(backgroundCtx)
		}()
		log.Printf("registrar: digest enabled (schedule=%q, tz=%s)", cfg.DigestSchedule, cfg.DigestTimezone)
	} else {
		log.Println("registrar: DIGEST_ENABLED not set; digest disabled")
	}

	if cfg.ReconcileEnabled {
		recon := reconciler.New(reconciler.Config{
			Interval:  cfg.ReconcileInterval,
			Threshold: cfg.ReconcileThreshold,
		}, ledger.loader)
		if metricsSink != nil {
			recon = recon.WithMetrics(metricsSink)
		}
		backgroundWg.Add(1)
		go func() {
			defer backgroundWg.Done()
			recon.Run(backgroundCtx)
		}()
		log.Printf("registrar: reconciler enabled (interval=%s, threshold=%s)",
			cfg.ReconcileInterval, cfg.ReconcileThreshold)
	} else {
		log.Println("registrar: RECONCILE_ENABLED not set; reconciler disabled")
	}

	log.Printf("registrar: started (backend=%s, http=%s)", cfg.LedgerBackend, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("registrar: received signal %v, shutting down", received)

	// Phase 1: Stop accepting submissions.
	log.Println("registrar: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("registrar: http server shutdown error: %v", err)
	}
	log.Println("registrar: http server stopped")

	// Phase 2: Stop background tasks (digest, reconciler).
	if cancelBackground != nil {
		log.Println("registrar: stopping background tasks...")
		cancelBackground()
		backgroundWg.Wait()
		log.Println("registrar: background tasks stopped")
	}

	// Phase 3: Stop dispatcher (drains buffered completion events).
	log.Println("registrar: stopping dispatcher (draining events)...")
	cancelDispatcher()
	dispatcherWg.Wait()
	log.Println("registrar: dispatcher stopped")

	// Phase 4: Stop the ledger writer after all producers are gone.
	ledger.stop()
	log.Println("registrar: ledger stopped")

	// Phase 5: Stop metrics server if running (with same timeout)
	if metricsServer != nil {
		log.Println("registrar: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("registrar: metrics server shutdown error: %v", err)
		}
		log.Println("registrar: metrics server stopped")
	}

	log.Println("registrar: stopped")
	return exitSuccess
}

// openLedger builds the configured ledger backend and its lifecycle hooks.
func openLedger(cfg config.Config, metricsSink *metrics.PrometheusSink) (*ledgerHandle, error) {
	switch cfg.LedgerBackend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
		log.Printf("registrar: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		store := ledgerpg.New(db, cfg.DBOpTimeout)
		ctx, cancel := context.WithTimeout(context.Background(), cfg.DBOpTimeout)
		defer cancel()
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}

		return &ledgerHandle{
			store:   store,
			loader:  store,
			health:  db,
			stop:    func() {},
			closeFn: func() { db.Close() },
		}, nil

	case config.BackendDocument:
		store := document.New(cfg.LedgerPath, cfg.LedgerQueueSize)
		if metricsSink != nil {
			store = store.WithMetrics(metricsSink)
		}

		writerCtx, cancelWriter := context.WithCancel(context.Background())
		var writerWg sync.WaitGroup
		writerWg.Add(1)
		go func() {
			defer writerWg.Done()
			store.Run(writerCtx)
		}()

		return &ledgerHandle{
			store:  store,
			loader: store,
			health: store,
			stop: func() {
				cancelWriter()
				writerWg.Wait()
			},
			closeFn: func() {},
		}, nil

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

func runValidate() int {
	cfg := config.Load()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("registrar version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
