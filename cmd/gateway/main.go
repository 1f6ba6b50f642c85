// Package main runs the access gateway: the policy engine behind a REST and
// websocket surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/R3E-Network/access_layer/internal/config"
	"github.com/R3E-Network/access_layer/internal/logging"
	"github.com/R3E-Network/access_layer/internal/middleware"
)

func main() {
	var (
		envFile    = flag.String("env-file", "", "Path to an env file (default .env when present)")
		issueToken = flag.String("issue-token", "", "Print an admin token for this address and exit")
		tokenTTL   = flag.Duration("token-ttl", 12*time.Hour, "Lifetime of tokens printed by -issue-token")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *issueToken != "" {
		role := newRoleResolver(cfg).resolve(*issueToken)
		if role == "" {
			log.Printf("Warning: %s is not a configured admin; commands will be rejected unless it is promoted", *issueToken)
		}
		token, err := middleware.IssueToken([]byte(cfg.JWTSecret), *issueToken, role, *tokenTTL)
		if err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	logger := logging.New("gateway", cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize gateway")
	}

	if err := a.run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Error("gateway stopped with error")
		a.shutdown()
		os.Exit(1)
	}
	a.shutdown()
}
