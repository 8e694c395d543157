package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clinicops/clinicops/internal/config"
	"github.com/clinicops/clinicops/internal/domain/dailycode"
	"github.com/clinicops/clinicops/internal/platform/db"
	"github.com/clinicops/clinicops/internal/platform/logging"
	"github.com/clinicops/clinicops/internal/platform/middleware"
	"github.com/clinicops/clinicops/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "clinic-server",
		Short:        "Clinic daily access code server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(codeCmd())
	rootCmd.AddCommand(settingsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand needs once config and storage are up.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	svc    *dailycode.Service
	logs   io.Closer
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.logs != nil {
		a.logs.Close()
	}
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, logs, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Console: cfg.IsDev(),
		File:    cfg.LogFile,
	})
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
		Schema:   cfg.DBSchema,
	})
	if err != nil {
		logs.Close()
		return nil, err
	}

	loc, _ := cfg.Location()
	svc := dailycode.NewService(
		dailycode.NewAssignmentRepoPG(pool),
		dailycode.NewSettingsRepoPG(pool),
		dailycode.ServiceConfig{
			Location:        loc,
			DefaultPolicy:   dailycode.ResetPolicy{Hour: cfg.ResetHour, Minute: cfg.ResetMinute},
			MaxMintAttempts: cfg.CodeMaxAttempts,
		},
		logger,
	)

	return &app{cfg: cfg, logger: logger, pool: pool, svc: svc, logs: logs}, nil
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the daily code API server and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrate, _ := cmd.Flags().GetBool("migrate")
			return runServer(migrate)
		},
	}
	cmd.Flags().Bool("migrate", true, "Apply pending migrations before serving")
	return cmd
}

func runServer(migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger
	logger.Info().Str("schema", a.cfg.DBSchema).Msg("connected to database")

	if migrate {
		if err := db.CreateSchema(ctx, a.pool, a.cfg.DBSchema, migrations.FS); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	// Seed the policy cache before the first tick.
	policy := a.svc.ResetPolicy(ctx)
	logger.Info().
		Str("timezone", a.svc.Location().String()).
		Str("reset_at", policy.String()).
		Msg("reset policy loaded")

	sched := dailycode.NewScheduler(a.svc, a.cfg.DisplayTick, a.cfg.ResetCheckTick, logger)
	handler := dailycode.NewHandler(a.svc, sched)
	e := newRouter(a.cfg, logger, handler, db.HealthHandler(a.pool))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newRouter(cfg *config.Config, logger zerolog.Logger, handler *dailycode.Handler, dbHealth echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("64K"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/metrics"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}
	if cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
	handler.RegisterRoutes(apiV1, middleware.RateLimit(middleware.RegenerateRateLimitConfig()))

	return e
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			schema := schemaFlag(cmd, a.cfg)
			fmt.Printf("Running migrations on schema: %s\n", schema)
			if err := db.CreateSchema(ctx, a.pool, schema, nil); err != nil {
				return err
			}
			count, err := migrator(a.pool, dir).Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "", "Target schema for migrations (defaults to DB_SCHEMA)")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			schema := schemaFlag(cmd, a.cfg)
			statuses, err := migrator(a.pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			printMigrationStatus(os.Stdout, statuses)
			return nil
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema for migrations (defaults to DB_SCHEMA)")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func migrator(pool *pgxpool.Pool, dir string) *db.Migrator {
	if dir != "" {
		return db.NewDirMigrator(pool, dir)
	}
	return db.NewMigrator(pool, migrations.FS)
}

func schemaFlag(cmd *cobra.Command, cfg *config.Config) string {
	if schema, _ := cmd.Flags().GetString("schema"); schema != "" {
		return schema
	}
	return cfg.DBSchema
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func codeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code",
		Short: "Inspect or rotate the daily code",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "today",
		Short: "Print today's code, minting it if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.svc.Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Code:        %s\n", st.Code)
			fmt.Printf("Date:        %s\n", st.CivilDate)
			fmt.Printf("Index:       %d\n", st.SequenceIndex)
			fmt.Printf("Codes used:  %d\n", st.CodesUsed)
			fmt.Printf("Next reset:  %s (in %s)\n",
				st.NextReset.Format(time.RFC3339), formatCountdown(time.Duration(st.SecondsUntilReset)*time.Second))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "regenerate",
		Short: "Replace today's code with the next one in the sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			asg, err := a.svc.RegenerateToday(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("New code for %s: %s (index %d)\n", asg.Date(), asg.Code, asg.SequenceIndex)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "decode <code>",
		Short: "Print the sequence index of a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := dailycode.Decode(dailycode.Code(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(idx)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "encode <index>",
		Short: "Print the code for a sequence index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("index must be an integer: %w", err)
			}
			fmt.Println(dailycode.Encode(idx))
			return nil
		},
	})

	nextReset := &cobra.Command{
		Use:   "next-reset",
		Short: "Print the next reset instant without touching the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			policy := dailycode.ResetPolicy{Hour: cfg.ResetHour, Minute: cfg.ResetMinute}
			if at, _ := cmd.Flags().GetString("at"); at != "" {
				if policy, err = dailycode.ParseResetPolicy(at); err != nil {
					return err
				}
			}
			loc, _ := cfg.Location()
			now := time.Now()
			next := dailycode.NextReset(now, policy, loc)
			fmt.Printf("%s (in %s)\n", next.Format(time.RFC3339), formatCountdown(next.Sub(now)))
			return nil
		},
	}
	nextReset.Flags().String("at", "", "Reset time HH:MM (defaults to RESET_HOUR:RESET_MINUTE)")
	cmd.AddCommand(nextReset)

	return cmd
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage the reset policy",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the persisted reset policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			p := a.svc.ResetPolicy(ctx)
			fmt.Printf("Reset at %s %s\n", p, a.svc.Location())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set-reset <HH:MM>",
		Short: "Persist a new daily reset time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := dailycode.ParseResetPolicy(args[0])
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.SaveResetPolicy(ctx, p); err != nil {
				return err
			}
			fmt.Printf("Reset policy saved: %s %s\n", p, a.svc.Location())
			return nil
		},
	})

	return cmd
}

// formatCountdown renders d as HH:MM:SS, clamping negatives to zero.
func formatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
