package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"elliott-backtester/internal/api"
)

var (
	servePrintToken bool
	tokenTTL        time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and WebSocket progress stream",
	Long: `Start the HTTP server. It exposes persisted runs, launches new
backtests, and streams run progress over WebSocket. Requires PostgreSQL
for the report endpoints; runs without it but returns 503 on those routes.

Example usage:
  elliott-backtester serve
  EW_API_AUTH_SECRET=changeme elliott-backtester serve --print-token`,
	RunE: runServeCmd,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token for the API",
	Long: `Generate a signed bearer token for the configured auth secret.
Fails when no auth secret is set, since the API is open in that case.`,
	RunE: runTokenCmd,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	serveCmd.Flags().BoolVar(&servePrintToken, "print-token", false, "Print a bearer token on startup")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "Token lifetime")
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := buildLogger(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	if err := resolveSecrets(ctx, &cfg, logger); err != nil {
		return err
	}

	loader, cache := openLoader(ctx, cfg, logger)
	defer cache.Close()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	} else {
		logger.Warn().Msg("No PostgreSQL DSN configured, report endpoints disabled")
	}

	if servePrintToken {
		if cfg.Server.AuthSecret == "" {
			return fmt.Errorf("cannot print a token: no auth secret configured")
		}
		token, err := api.NewTokenManager(cfg.Server.AuthSecret, 24*time.Hour).Generate("cli")
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}
		fmt.Printf("Bearer token (24h): %s\n", token)
	}

	server := api.NewServer(cfg.Server, cfg, st, cache, loader, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	logger.Info().Msg("Server stopped")
	return nil
}

func runTokenCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := buildLogger(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	if err := resolveSecrets(ctx, &cfg, logger); err != nil {
		return err
	}
	if cfg.Server.AuthSecret == "" {
		return fmt.Errorf("no auth secret configured, API auth is disabled")
	}

	token, err := api.NewTokenManager(cfg.Server.AuthSecret, tokenTTL).Generate("cli")
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	fmt.Println(token)
	return nil
}
