package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/therabill/claims/internal/config"
	"github.com/therabill/claims/internal/domain/edi837"
	"github.com/therabill/claims/internal/platform/auth"
	"github.com/therabill/claims/internal/platform/db"
	"github.com/therabill/claims/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "claims-server",
		Short: "EDI 837P claims export service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(dryRunCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claims API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run the 837P export pipeline once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix, _ := cmd.Flags().GetString("prefix")
			return runExport(prefix)
		},
	}
	cmd.Flags().String("prefix", "", "Override the export file name prefix")
	return cmd
}

func dryRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dry-run",
		Short: "Export pending claims through the sandbox clearinghouse",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDryRun()
		},
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

func generatorOptions(cfg *config.Config) edi837.GeneratorOptions {
	return edi837.GeneratorOptions{
		SenderID:       cfg.EDISenderID,
		ReceiverID:     cfg.EDIReceiverID,
		UsageIndicator: cfg.EDIUsage,
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuth())
	} else {
		e.Use(auth.JWT([]byte(cfg.JWTSigningKey)))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	repo := edi837.NewRepoPG(pool)
	svc := edi837.NewService(repo, logger)

	sandbox, err := edi837.NewSandboxClient(edi837.SandboxPayerFixtures(), time.Now)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build sandbox clearinghouse client")
	}

	apiV1 := e.Group("/api/v1")
	handler := edi837.NewHandler(svc, generatorOptions(cfg), cfg.EDIFilePrefix, sandbox)
	handler.RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("starting server")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runExport(prefix string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if prefix == "" {
		prefix = cfg.EDIFilePrefix
	}

	svc := edi837.NewService(edi837.NewRepoPG(pool), logger)
	result, err := svc.RunExportPipeline(ctx, edi837.ExportParams{
		GeneratorOptions: generatorOptions(cfg),
		FileNamePrefix:   prefix,
	})
	if err != nil {
		logger.Error().Err(err).Msg("export failed")
		return err
	}

	if !result.Exported {
		logger.Info().Msg("no pending claims to export")
		return nil
	}

	logger.Info().
		Int("claims", result.ClaimCount).
		Str("file", result.File.FileName).
		Str("hash", result.File.Checksum).
		Msg("export complete")
	return nil
}

func runDryRun() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	sandbox, err := edi837.NewSandboxClient(edi837.SandboxPayerFixtures(), time.Now)
	if err != nil {
		return err
	}

	svc := edi837.NewService(edi837.NewRepoPG(pool), logger)
	result, err := svc.RunClearinghouseDryRun(ctx, edi837.DryRunParams{
		ExportParams: edi837.ExportParams{
			GeneratorOptions: generatorOptions(cfg),
			FileNamePrefix:   cfg.EDIFilePrefix,
		},
		Clearinghouse: sandbox,
		AuditContext:  map[string]string{"triggered_by": "cli"},
	})
	if err != nil {
		logger.Error().Err(err).Msg("dry run failed")
		return err
	}

	if !result.Exported {
		logger.Info().Msg("no pending claims to export")
		return nil
	}

	evt := logger.Info().
		Int("claims", result.ClaimCount).
		Str("file", result.File.FileName).
		Int("denials", len(result.DenialRecords))
	if result.Acknowledgment != nil {
		evt = evt.
			Str("ack_id", result.Acknowledgment.ID).
			Str("ack_status", string(result.Acknowledgment.Status))
	}
	evt.Msg("dry run complete")
	return nil
}
