package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/pflag"

	"github.com/chapterhub/chapterhub/cmd/chapterhub/cli"
	"github.com/chapterhub/chapterhub/internal/abac"
	abachttp "github.com/chapterhub/chapterhub/internal/abac/http"
	"github.com/chapterhub/chapterhub/internal/app"
	"github.com/chapterhub/chapterhub/internal/authz"
	"github.com/chapterhub/chapterhub/internal/observability"
	"github.com/chapterhub/chapterhub/internal/platform/cache"
	"github.com/chapterhub/chapterhub/internal/platform/db"
	"github.com/chapterhub/chapterhub/internal/rbac"
	rbachttp "github.com/chapterhub/chapterhub/internal/rbac/http"
	"github.com/chapterhub/chapterhub/internal/shared"
	"github.com/chapterhub/chapterhub/jobs"
	"github.com/chapterhub/chapterhub/migrations"
)

const usage = `usage: chapterhub <command> [flags]

commands:
  serve       run the HTTP API (default)
  migrate     apply schema migrations: up | down | version
  bootstrap   write the built-in role catalog
  jobs        trigger | stats | schedule
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	command, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger, args)
	case "migrate":
		err = migrate(ctx, cfg, args, os.Stdout)
	case "bootstrap":
		err = bootstrap(ctx, cfg, logger)
	case "jobs":
		err = jobsCommand(ctx, cfg, args, os.Stdout)
	case "help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	addr := flags.String("addr", cfg.AppAddr, "listen address")
	runBootstrap := flags.Bool("bootstrap", true, "write the role catalog before serving")
	if err := flags.Parse(args); err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	repo := rbac.NewRepository(pool)
	if *runBootstrap {
		if err := rbac.Bootstrap(ctx, repo, logger); err != nil {
			return err
		}
	}

	grantCache := rbac.NewCachedGrantSource(repo, redisClient, cfg.GrantCacheTTL, logger)
	security := rbac.NewSecurityService(grantCache, logger)
	grantService := rbac.NewGrantService(repo, grantCache, logger)
	evaluator := abac.NewDefaultEvaluator(logger, cfg.BusinessHours())
	metrics := observability.NewMetrics()
	checkpoint := authz.New(security, evaluator, logger, metrics)

	inspector := asynq.NewInspector(redisOpts(cfg))
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		SessionManager: shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction()),
		RBACMiddleware: rbac.Middleware{Service: security, Logger: logger},
		Checkpoint:     checkpoint,
		GrantHandler:   rbachttp.NewHandler(logger, grantService).WithRoleAdmin(rbac.NewRoleAdmin(repo, grantCache, logger)),
		PolicyHandler:  abachttp.NewHandler(logger, evaluator),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", *addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func migrate(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	dsn := flags.String("dsn", cfg.PGDSN, "PostgreSQL connection string")
	if err := flags.Parse(args); err != nil {
		return err
	}
	direction := "up"
	if flags.NArg() > 0 {
		direction = flags.Arg(0)
	}
	switch direction {
	case "up":
		return migrations.Up(ctx, *dsn)
	case "down":
		return migrations.Down(ctx, *dsn)
	case "version":
		v, err := migrations.Version(ctx, *dsn)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "schema version %d\n", v)
		return err
	default:
		return fmt.Errorf("migrate: unknown direction %q", direction)
	}
}

func bootstrap(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return rbac.Bootstrap(ctx, rbac.NewRepository(pool), logger)
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("jobs", pflag.ContinueOnError)
	retention := flags.Duration("retention", 0, "override the grant retention window for a triggered run")
	count := flags.Int("count", 3, "number of upcoming runs to list for schedule")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() == 0 {
		return errors.New("jobs: expected trigger, stats or schedule")
	}

	if flags.Arg(0) == "schedule" {
		runs, err := cli.NextRuns(jobs.GrantRetentionCron, time.Now().In(cfg.BusinessHours().Location), *count)
		if err != nil {
			return err
		}
		for _, run := range runs {
			fmt.Fprintf(out, "%s\t%s\n", jobs.TaskGrantRetention, run.Format(time.RFC3339))
		}
		return nil
	}

	jobsCLI := cli.NewJobsCLI(redisOpts(cfg))
	defer jobsCLI.Close()

	switch flags.Arg(0) {
	case "trigger":
		name := jobs.TaskGrantRetention
		if flags.NArg() > 1 {
			name = flags.Arg(1)
		}
		info, err := jobsCLI.Trigger(ctx, name, *retention)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return err
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return err
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", flags.Arg(0))
	}
}

func redisOpts(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}
