package main

import (
	"context"
	"database/sql"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"mdscloud.org/identity/internal/config"
	"mdscloud.org/identity/internal/httpapi"
	"mdscloud.org/identity/internal/identity"
	"mdscloud.org/identity/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("MDS_CONFIG"), "path to YAML configuration")
	flag.Parse()

	log := obs.Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	obs.SetLogLevel(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	signer := identity.NewSigner(
		cfg.Token.PrivateKeyPath,
		cfg.Token.PrivateKeyPassphrase,
		cfg.Token.PublicKeyPath,
		identity.WithSignerIssuer(cfg.Token.Issuer),
		identity.WithSignerAudience(cfg.Token.Audience),
		identity.WithSignerLifespan(cfg.Token.Lifespan()),
	)
	svc := identity.NewService(
		identity.NewPGStore(db),
		signer,
		identity.WithFailureDelay(cfg.Token.FailureDelay()),
		identity.WithLogger(log),
	)

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(svc, probe, version, httpapi.Options{
		RateLimitBurst:     cfg.RateLimit.Burst,
		RateLimitPerSecond: cfg.RateLimit.PerSecond,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthSrv := httpapi.NewHealthServer()
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("grpc listen")
		}
		log.WithField("addr", cfg.GRPCAddr).Info("grpc health server listening")
		if err := healthSrv.GRPC().Serve(lis); err != nil {
			log.WithError(err).Error("grpc serve")
		}
	}()
	go healthSrv.Watch(ctx, probe, 10*time.Second)

	go func() {
		log.WithField("addr", cfg.HTTPAddr).WithField("version", version).Info("identity api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http listen")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	healthSrv.GRPC().GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	log.Info("stopped")
}
