package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	accountrepo "github.com/scoutbase/service-identity-go/internal/account/repo"
	"github.com/scoutbase/service-identity-go/internal/identity"
	"github.com/scoutbase/service-identity-go/internal/identity/gotrue"
	"github.com/scoutbase/service-identity-go/internal/identity/local"
	"github.com/scoutbase/service-identity-go/internal/profile"
	profilerepo "github.com/scoutbase/service-identity-go/internal/profile/repo"
	"github.com/scoutbase/service-identity-go/internal/router"
	"github.com/scoutbase/service-identity-go/internal/session"
	"github.com/scoutbase/service-identity-go/pkg/database"
	"github.com/scoutbase/service-identity-go/pkg/utilities"
)

// newProvider picks the identity backend from IDENTITY_PROVIDER: "local"
// gives an in-process provider for development, anything else the
// GoTrue-compatible HTTP client.
func newProvider(sugar *zap.SugaredLogger) identity.Provider {
	if os.Getenv("IDENTITY_PROVIDER") == "local" {
		sugar.Warn("using in-process identity provider; credentials are not durable")
		return local.New()
	}
	return gotrue.New(gotrue.ConfigFromEnv(), sugar)
}

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	// init logger
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Info("starting service-identity-go")

	// init db
	cfg := database.ConfigFromEnv()
	sqlDB, err := database.Connect(cfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer sqlDB.Close()

	// wrap with sqlx for convenience in repos/services
	sqlxDB := sqlx.NewDb(sqlDB, "postgres")
	defer sqlxDB.Close()

	accounts := accountrepo.NewAccountRepo(sqlxDB)
	profiles := profilerepo.NewProfileRepo(sqlxDB)
	provider := newProvider(sugar)

	ensurer := profile.NewEnsurer(profiles, accounts, sugar)
	sessions := session.NewService(provider, accounts, ensurer, sugar)
	handler := router.RegisterRoutes(sugar, session.NewHandler(sessions, sugar))

	// graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Info("service is running; press Ctrl+C to stop")

	srv := &http.Server{
		Addr:    "0.0.0.0:8433",
		Handler: handler,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// shutdown http server
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
