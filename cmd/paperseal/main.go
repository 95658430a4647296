package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/paperseal/internal/artifact"
	"github.com/pavelanni/paperseal/internal/finalize"
	"github.com/pavelanni/paperseal/internal/handler"
	appI18n "github.com/pavelanni/paperseal/internal/i18n"
	"github.com/pavelanni/paperseal/internal/lifecycle"
	"github.com/pavelanni/paperseal/internal/llm"
	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/selection"
	"github.com/pavelanni/paperseal/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "paperseal",
		Short: "Question selection and paper finalization service",
	}

	serve := serveCmd()
	root.AddCommand(serve, reconcileCmd(), exportCmd(), importCmd(), userCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db-driver", store.DriverSQLite, "Database driver (sqlite, postgres)")
	f.String("db", "paperseal.db", "SQLite database path or Postgres DSN")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addEngineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("artifact-sink", "file", "Artifact sink (file, gcs)")
	f.String("artifact-dir", "artifacts", "Directory for the file sink")
	f.String("artifact-base-url", "", "Public URL prefix for the file sink (default file:// URLs)")
	f.String("gcs-bucket", "", "Bucket for the gcs sink")
	f.String("gcs-credentials", "", "Service account JSON for the gcs sink (default application credentials)")
	f.Duration("artifact-timeout", 30*time.Second, "Deadline for one artifact generation")
	f.Float64("artifact-rate", 0, "Artifact generations per second (0 = unlimited)")
	f.Int("compensation-attempts", 3, "Attempts to revert a seal after a failed generation")
	f.Duration("compensation-backoff", 200*time.Millisecond, "Initial backoff between compensation attempts")
	f.Duration("stale-after", 10*time.Minute, "Age after which an unbacked seal is reconciled")
	f.String("reconcile-mode", finalize.ModeRegenerate, "Reconcile action (regenerate, revert)")
	f.Int("reconcile-workers", 4, "Concurrent reconcile workers")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	addEngineFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.Duration("reconcile-interval", time.Minute, "Interval between reconcile passes (0 = disabled)")
	f.String("llm-url", "", "OpenAI-compatible API base URL for question generation (empty = disabled)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set PAPERSEAL_ADMIN_PASSWORD)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PAPERSEAL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("paperseal")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/paperseal")
	v.AddConfigPath("/etc/paperseal")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(v *viper.Viper) (*store.Store, error) {
	db, err := store.New(v.GetString("db-driver"), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func engineConfig(v *viper.Viper) (model.Config, error) {
	cfg := model.Config{
		ArtifactTimeout:      v.GetDuration("artifact-timeout"),
		CompensationAttempts: v.GetInt("compensation-attempts"),
		CompensationBackoff:  v.GetDuration("compensation-backoff"),
		StaleAfter:           v.GetDuration("stale-after"),
		ReconcileMode:        strings.ToLower(v.GetString("reconcile-mode")),
		ReconcileWorkers:     v.GetInt("reconcile-workers"),
		Lang:                 v.GetString("lang"),
	}
	switch cfg.ReconcileMode {
	case finalize.ModeRegenerate, finalize.ModeRevert:
	default:
		return cfg, fmt.Errorf("invalid reconcile-mode %q", cfg.ReconcileMode)
	}
	return cfg, nil
}

// engine is the wired selection and finalization stack.
type engine struct {
	lc    *lifecycle.Controller
	sel   *selection.Manager
	saga  *finalize.Saga
	close func() error
}

func newEngine(ctx context.Context, v *viper.Viper, db *store.Store, cfg model.Config) (*engine, error) {
	var sink artifact.Sink
	closeSink := func() error { return nil }
	switch strings.ToLower(v.GetString("artifact-sink")) {
	case "", "file":
		sink = artifact.FileSink{Dir: v.GetString("artifact-dir"), BaseURL: v.GetString("artifact-base-url")}
	case "gcs":
		gcs, err := artifact.NewGCSSink(ctx, v.GetString("gcs-bucket"), v.GetString("gcs-credentials"))
		if err != nil {
			return nil, fmt.Errorf("create gcs sink: %w", err)
		}
		sink = gcs
		closeSink = gcs.Close
	default:
		return nil, fmt.Errorf("unknown artifact sink %q", v.GetString("artifact-sink"))
	}

	lc := lifecycle.New(db, cfg)
	gen := artifact.NewRenderingGenerator(sink, v.GetFloat64("artifact-rate"))
	return &engine{
		lc:    lc,
		sel:   selection.NewManager(db, lc),
		saga:  finalize.NewSaga(db, lc, gen, cfg),
		close: closeSink,
	}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	cfg, err := engineConfig(v)
	if err != nil {
		return err
	}
	if err := appI18n.Init(cfg.Lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	eng, err := newEngine(ctx, v, db, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.close() }()

	opts := handler.Options{Lang: cfg.Lang, SecureCookies: v.GetBool("secure-cookies")}
	if url := v.GetString("llm-url"); url != "" {
		client := llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"))
		if err := client.Ping(ctx); err != nil {
			slog.Warn("LLM health check failed; generation requests will fail until it recovers",
				"url", url, "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", url, "model", v.GetString("llm-model"))
		}
		opts.Generator = client
	}
	h := handler.New(db, eng.sel, eng.lc, eng.saga, opts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(cfg.Lang))
	r.Handle("/metrics", promhttp.Handler())
	h.Routes(r)

	if interval := v.GetDuration("reconcile-interval"); interval > 0 {
		go eng.saga.RunReconciler(ctx, interval)
	}
	go cleanupSessions(ctx, db)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"db_driver", v.GetString("db-driver"),
		"artifact_sink", v.GetString("artifact-sink"),
		"lang", cfg.Lang,
		"reconcile_mode", cfg.ReconcileMode,
		"stale_after", cfg.StaleAfter,
	)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	slog.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

func cleanupSessions(ctx context.Context, db *store.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.CleanupExpiredSessions(ctx); err != nil {
				slog.Error("failed to clean up sessions", "error", err)
			}
		}
	}
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconcile pass over abandoned seals",
		RunE:  runReconcile,
	}
	addStoreFlags(cmd)
	addEngineFlags(cmd)
	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg, err := engineConfig(v)
	if err != nil {
		return err
	}
	eng, err := newEngine(cmd.Context(), v, db, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.close() }()

	rep, err := eng.saga.Reconcile(cmd.Context())
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "regenerated=%d reverted=%d skipped=%d failed=%d\n",
		rep.Regenerated, rep.Reverted, rep.Skipped, rep.Failed)
	return nil
}
