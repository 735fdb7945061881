package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"janseva.org/internal/auth"
	"janseva.org/internal/config"
	"janseva.org/internal/httpapi"
	"janseva.org/internal/ledger"
	"janseva.org/internal/migrate"
	"janseva.org/internal/obs"
	"janseva.org/internal/portal"
	"janseva.org/internal/registry"
	"janseva.org/internal/seed"
	"janseva.org/internal/session"
	"janseva.org/internal/store/pg"
	"janseva.org/internal/stream"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		obs.Logger().Error("api_exit", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Precedence: flags over environment over the optional dotenv file.
	cfg, err := config.Load(os.Getenv("PORTAL_ENV_FILE"))
	if err != nil {
		return err
	}
	flags := pflag.NewFlagSet("api", pflag.ContinueOnError)
	cfg.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := cfg.ApplyLogLevel(); err != nil {
		return err
	}
	generated, err := cfg.EnsureSecret()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log := obs.Logger()
	if generated {
		log.Warn("auth_secret_generated", "detail", "sessions will not survive a restart")
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probe := httpapi.ReadyProbe{}

	// Registry and ledger: Postgres when a DSN is configured, memory otherwise.
	var (
		schemes registry.Service
		apps    ledger.Service
	)
	if cfg.PGDSN != "" {
		store, err := pg.Open(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer store.Close()
		if cfg.AutoMigrate {
			applied, err := migrate.NewManager(store.DB(), nil).Up(ctx)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			log.Info("migrations_applied", "files", applied)
		}
		schemes, apps = store, store
		probe.DB = store.DB()
	} else {
		mem := registry.NewInMemory()
		schemes, apps = mem, ledger.NewInMemory(mem)
		log.Info("storage_in_memory")
	}

	var sessionStore session.Store = session.NewInMemory()
	if cfg.RedisURL != "" {
		client, err := session.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer client.Close()
		rs := session.NewRedis(client)
		sessionStore = rs
		probe.Sessions = rs
	}

	if err := loadSeeds(ctx, cfg, schemes, apps); err != nil {
		return err
	}

	tokens, err := auth.NewTokenIssuer(cfg.AuthSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}
	scope, _ := portal.ParseCitizenScope(cfg.CitizenScope)
	events := stream.New()
	svc := portal.New(schemes, apps, portal.WithCitizenScope(scope), portal.WithStream(events))

	api := httpapi.New(probe, version, svc, session.NewService(sessionStore, tokens),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var (
		gsrv    *grpc.Server
		grpcLis net.Listener
	)
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gsrv = httpapi.NewGRPCServer(probe, version).NewServer()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http_listening", "addr", srv.Addr, "version", version, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	if gsrv != nil {
		g.Go(func() error {
			log.Info("grpc_listening", "addr", cfg.GRPCAddr)
			return gsrv.Serve(grpcLis)
		})
		g.Go(func() error {
			<-gctx.Done()
			gsrv.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

func loadSeeds(ctx context.Context, cfg config.Config, schemes registry.Service, apps ledger.Service) error {
	var docs []seed.Document
	if cfg.SeedDemo {
		docs = append(docs, seed.Demo())
	}
	if cfg.SeedFile != "" {
		doc, err := seed.LoadFile(cfg.SeedFile)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		docs = append(docs, doc)
	}
	for _, doc := range docs {
		res, err := seed.Apply(ctx, schemes, apps, doc)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		obs.Logger().Info("seed_applied",
			"schemes", res.Schemes,
			"applications", res.Applications,
			"decisions", res.Decisions,
		)
	}
	return nil
}
