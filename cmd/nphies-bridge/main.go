package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sahlhealth/nphies-bridge/internal/config"
	"github.com/sahlhealth/nphies-bridge/internal/domain/batch"
	"github.com/sahlhealth/nphies-bridge/internal/domain/claims"
	"github.com/sahlhealth/nphies-bridge/internal/domain/communication"
	"github.com/sahlhealth/nphies-bridge/internal/domain/eligibility"
	"github.com/sahlhealth/nphies-bridge/internal/domain/priorauth"
	"github.com/sahlhealth/nphies-bridge/internal/platform/cache"
	"github.com/sahlhealth/nphies-bridge/internal/platform/db"
	"github.com/sahlhealth/nphies-bridge/internal/platform/middleware"
	"github.com/sahlhealth/nphies-bridge/internal/platform/nphies"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nphies-bridge",
		Short: "NPHIES clearinghouse client and batch claims pipeline",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(pollCmd())
	rootCmd.AddCommand(eligibilityCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	if os.Getenv("NPHIES_ENV") == "production" {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
}

// app holds the wired process-wide dependencies. The certificate store and
// auth context are loaded once and shared read-only.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	auth       *nphies.AuthContext
	client     *nphies.Client
	classifier *nphies.RejectionClassifier
	store      cache.Store
	locker     cache.Locker
	pool       *pgxpool.Pool
	batchRepo  batch.Repository
	claimRepo  claims.Repository
	commRepo   communication.Repository
}

func newApp(ctx context.Context, logger zerolog.Logger) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	certs, err := nphies.LoadCertificates(nphies.Environment(cfg.Env), cfg.CertFile, cfg.KeyFile, cfg.CAFile, time.Now())
	if err != nil {
		return nil, err
	}
	auth, err := nphies.NewAuthContext(cfg.LicenseNumber, cfg.OrganizationID, cfg.ProviderID)
	if err != nil {
		return nil, err
	}

	classifier := nphies.NewRejectionClassifier()
	if cfg.RejectionMapFile != "" {
		classifier, err = nphies.LoadRejectionMap(cfg.RejectionMapFile)
		if err != nil {
			return nil, err
		}
	}

	policy := nphies.DefaultRetryPolicy()
	policy.MaxRetries = cfg.MaxRetries
	client := nphies.NewClient(cfg.BaseURL, auth, certs, policy, cfg.RequestTimeout, logger)

	a := &app{
		cfg:        cfg,
		log:        logger,
		auth:       auth,
		client:     client,
		classifier: classifier,
		store:      cache.NewMemory(),
		locker:     cache.NewMemoryLocker(),
		batchRepo:  batch.NewMemoryRepository(),
		claimRepo:  claims.NewMemoryRepository(),
		commRepo:   communication.NewMemoryRepository(),
	}

	if cfg.RedisURL != "" {
		r, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.store = r
		a.locker = r
		logger.Info().Msg("connected to redis")
	}
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.batchRepo = batch.NewRepoPG(pool)
		a.claimRepo = claims.NewRepoPG(pool)
		a.commRepo = communication.NewRepoPG(pool)
		logger.Info().Msg("connected to database")
	}

	logger.Info().
		Str("environment", cfg.Env).
		Str("endpoint", cfg.BaseURL).
		Bool("mtls", cfg.IsProduction()).
		Msg("nphies bridge ready")
	return a, nil
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// operation wires the batch adapter for one operation name.
func (a *app) operation(name string) (batch.Operation, error) {
	switch name {
	case "eligibility":
		svc := eligibility.NewService(a.client, a.auth, a.classifier, a.store, a.cfg.EligibilityTTL, a.log)
		return eligibility.NewBatchOp(svc), nil
	case "claims":
		svc := claims.NewService(a.client, a.auth, a.classifier, a.claimRepo, a.log)
		return claims.NewBatchOp(svc), nil
	case "priorauth":
		svc := priorauth.NewService(a.client, a.auth, a.classifier, a.log)
		return priorauth.NewBatchOp(svc), nil
	default:
		return nil, fmt.Errorf("unknown operation %q (want eligibility, claims, or priorauth)", name)
	}
}

func (a *app) pipeline() *batch.Pipeline {
	return batch.NewPipeline(a.batchRepo, a.cfg.Workers, a.cfg.RecordMaxAttempts, a.log)
}

func (a *app) writeReport(ctx context.Context, path string, run *batch.Run) error {
	if path == "" {
		return nil
	}
	records, err := a.batchRepo.ListRecords(ctx, run.ID)
	if err != nil {
		return err
	}
	if err := batch.WriteResultFile(path, run, records); err != nil {
		return err
	}
	a.log.Info().Str("path", path).Msg("run report written")
	return nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reporting API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			e := echo.New()
			e.HideBanner = true
			e.HidePort = true

			e.Use(middleware.Recovery(logger))
			e.Use(middleware.RequestID())
			e.Use(middleware.Logger(logger))
			e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
				AllowMethods: []string{http.MethodGet},
				AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			}))

			e.GET("/healthz", func(c echo.Context) error {
				return c.JSON(http.StatusOK, map[string]string{"status": "ok", "environment": a.cfg.Env})
			})

			api := e.Group("/api/v1")
			if a.cfg.APIJWTSecret != "" {
				api.Use(middleware.JWTAuth([]byte(a.cfg.APIJWTSecret)))
			} else {
				logger.Warn().Msg("API_JWT_SECRET not set, reporting API is unauthenticated")
			}
			batch.NewHandler(a.batchRepo).RegisterRoutes(api)

			if a.cfg.PollInterval > 0 {
				commSvc := communication.NewService(a.client, a.auth, a.classifier, a.commRepo, a.locker, logger)
				go func() {
					ticker := time.NewTicker(a.cfg.PollInterval)
					defer ticker.Stop()
					for {
						select {
						case <-ctx.Done():
							return
						case <-ticker.C:
							msgs, _, err := commSvc.Poll(ctx)
							if err != nil {
								logger.Error().Err(err).Msg("communication poll failed")
								continue
							}
							if len(msgs) > 0 {
								logger.Info().Int("count", len(msgs)).Msg("new payer communications")
							}
						}
					}
				}()
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := e.Shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("server shutdown")
				}
			}()

			logger.Info().Str("port", a.cfg.Port).Msg("server listening")
			if err := e.Start(":" + a.cfg.Port); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch over an input file",
		RunE: func(cmd *cobra.Command, args []string) error {
			opName, _ := cmd.Flags().GetString("operation")
			input, _ := cmd.Flags().GetString("input")
			output, _ := cmd.Flags().GetString("output")

			logger := newLogger()
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			op, err := a.operation(opName)
			if err != nil {
				return err
			}
			rows, err := batch.ExtractFile(input)
			if err != nil {
				return err
			}

			run, err := a.pipeline().Run(ctx, op, rows)
			if err != nil {
				return err
			}
			if err := a.writeReport(context.Background(), output, run); err != nil {
				return err
			}
			fmt.Printf("run %s %s: %d total, %d succeeded, %d rejected, %d invalid, %d exhausted, %d need review\n",
				run.ID, run.Status, run.Total, run.Succeeded, run.Rejected, run.Invalid, run.Exhausted, run.NeedsReview)
			return nil
		},
	}
	cmd.Flags().String("operation", "eligibility", "Operation to run (eligibility, claims, priorauth)")
	cmd.Flags().String("input", "", "Input file (.csv, .json, or .xlsx)")
	cmd.Flags().String("output", "", "Run report output path (JSON)")
	cmd.MarkFlagRequired("input")
	return cmd
}

func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a crashed or cancelled batch run",
		RunE: func(cmd *cobra.Command, args []string) error {
			opName, _ := cmd.Flags().GetString("operation")
			runID, _ := cmd.Flags().GetString("run-id")
			output, _ := cmd.Flags().GetString("output")

			logger := newLogger()
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			op, err := a.operation(opName)
			if err != nil {
				return err
			}
			run, err := a.pipeline().Resume(ctx, op, runID)
			if err != nil {
				return err
			}
			if err := a.writeReport(context.Background(), output, run); err != nil {
				return err
			}
			fmt.Printf("run %s %s: %d total, %d succeeded, %d rejected, %d invalid, %d exhausted, %d need review\n",
				run.ID, run.Status, run.Total, run.Succeeded, run.Rejected, run.Invalid, run.Exhausted, run.NeedsReview)
			return nil
		},
	}
	cmd.Flags().String("operation", "eligibility", "Operation the run was started with")
	cmd.Flags().String("run-id", "", "Run to resume")
	cmd.Flags().String("output", "", "Run report output path (JSON)")
	cmd.MarkFlagRequired("run-id")
	return cmd
}

func pollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the clearinghouse for payer communications",
		RunE: func(cmd *cobra.Command, args []string) error {
			watch, _ := cmd.Flags().GetBool("watch")

			logger := newLogger()
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			svc := communication.NewService(a.client, a.auth, a.classifier, a.commRepo, a.locker, logger)

			pollOnce := func() error {
				msgs, rejection, err := svc.Poll(ctx)
				if err != nil {
					return err
				}
				if rejection != nil {
					fmt.Printf("poll rejected: %s (%s)\n", rejection.Code, rejection.Display)
					return nil
				}
				for _, msg := range msgs {
					fmt.Printf("%s  about=%s  category=%s\n", msg.ID, msg.AboutID, msg.Category)
				}
				fmt.Printf("%d new communication(s)\n", len(msgs))
				return nil
			}

			if err := pollOnce(); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			ticker := time.NewTicker(a.cfg.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := pollOnce(); err != nil {
						logger.Error().Err(err).Msg("poll failed")
					}
				}
			}
		},
	}
	cmd.Flags().Bool("watch", false, "Keep polling on the configured interval")
	return cmd
}

func eligibilityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eligibility",
		Short: "Run a single eligibility check",
		RunE: func(cmd *cobra.Command, args []string) error {
			member, _ := cmd.Flags().GetString("member")
			payer, _ := cmd.Flags().GetString("payer")
			date, _ := cmd.Flags().GetString("date")

			logger := newLogger()
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, logger)
			if err != nil {
				return err
			}
			defer a.close()

			svc := eligibility.NewService(a.client, a.auth, a.classifier, a.store, a.cfg.EligibilityTTL, logger)
			result, rejection, err := svc.Check(ctx, &eligibility.CheckInput{
				MemberID:    member,
				PayerID:     payer,
				ServiceDate: date,
			})
			if err != nil {
				return err
			}
			if rejection != nil {
				fmt.Printf("rejected: %s (%s), category %s\n", rejection.Code, rejection.Display, rejection.Category)
				return nil
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().String("member", "", "Member id")
	cmd.Flags().String("payer", "", "Payer license id")
	cmd.Flags().String("date", "", "Service date (YYYY-MM-DD)")
	cmd.MarkFlagRequired("member")
	cmd.MarkFlagRequired("payer")
	cmd.MarkFlagRequired("date")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	connect := func(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for migrations")
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, nil, err
		}
		return cfg, pool, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, cfg.MigrationsDir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, cfg.MigrationsDir).Status(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}
