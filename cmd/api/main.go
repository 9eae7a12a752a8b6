package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"monitordb.io/internal/alert"
	"monitordb.io/internal/audit"
	"monitordb.io/internal/auth"
	"monitordb.io/internal/config"
	"monitordb.io/internal/httpapi"
	"monitordb.io/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Persistent stores when a DSN is configured, in-memory otherwise.
	// The in-memory mode exists for local development and tests.
	var (
		db       *sql.DB
		creds    auth.CredentialStore
		sessions auth.SessionRegistry
		sink     audit.Sink = audit.LogSink{}
	)
	if cfg.DatabaseDSN != "" {
		db, err = sql.Open("pgx", cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)

		creds = auth.NewPGCredentialStore(db)
		sessions = auth.NewPGSessionRegistry(db, cfg.RefreshTTL)
		sink = auth.NewPGAuditSink(db)
	} else {
		log.Println("MONITORDB_PG_DSN not set, using in-memory stores")
		creds = auth.NewMemoryCredentialStore()
		sessions = auth.NewMemorySessionRegistry(cfg.RefreshTTL)
	}

	alerts := alert.New()
	recorder := audit.NewRecorder(audit.Fanout(sink, alert.NewSink(alerts)))

	issuer, err := auth.NewIssuer([]byte(cfg.SigningKey),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
		auth.WithIssuerName(cfg.Issuer),
	)
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}

	svc, err := auth.NewService(creds, sessions, issuer,
		auth.WithPasswordRules(auth.PasswordRules{
			MinLength:     cfg.PasswordMinLength,
			RequireUpper:  cfg.PasswordRequireUpper,
			RequireDigit:  cfg.PasswordRequireDigit,
			RequireSymbol: cfg.PasswordRequireSymbol,
		}),
		auth.WithLockoutPolicy(auth.LockoutPolicy{
			Threshold: cfg.LockoutThreshold,
			Base:      cfg.LockoutBase,
			Factor:    cfg.LockoutFactor,
			Max:       cfg.LockoutMax,
		}),
		auth.WithRecorder(recorder),
	)
	if err != nil {
		log.Fatalf("service: %v", err)
	}

	if cfg.BootstrapAdminUser != "" && cfg.BootstrapAdminPassword != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := svc.CreateIdentity(ctx, cfg.BootstrapAdminUser, cfg.BootstrapAdminPassword, auth.RoleAdmin)
		cancel()
		switch {
		case err == nil:
			log.Printf("bootstrapped admin %q", cfg.BootstrapAdminUser)
		case errors.Is(err, auth.ErrAlreadyExists):
			// already provisioned
		default:
			log.Fatalf("bootstrap admin: %v", err)
		}
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithLoginRate(cfg.LoginRatePerSecond, cfg.LoginRateBurst),
		httpapi.WithAlertStream(alerts))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting monitordb-auth %s on %s", version, srv.Addr)

	// Background sweep of expired refresh sessions.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-pruneCtx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(pruneCtx, 30*time.Second)
				n, err := sessions.PruneExpired(ctx)
				cancel()
				if err != nil {
					log.Printf("prune sessions: %v", err)
				} else if n > 0 {
					log.Printf("pruned %d expired sessions", n)
				}
			}
		}
	}()

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	pruneCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = recorder.Close(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
