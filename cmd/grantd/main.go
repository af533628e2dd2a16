package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path"
	"sort"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/grantd/internal/cache"
	cachemem "github.com/dropDatabas3/grantd/internal/cache/memory"
	cacheredis "github.com/dropDatabas3/grantd/internal/cache/redis"
	"github.com/dropDatabas3/grantd/internal/catalog"
	"github.com/dropDatabas3/grantd/internal/config"
	hosthttp "github.com/dropDatabas3/grantd/internal/http"
	"github.com/dropDatabas3/grantd/internal/jwt"
	"github.com/dropDatabas3/grantd/internal/metrics"
	"github.com/dropDatabas3/grantd/internal/oauth"
	"github.com/dropDatabas3/grantd/internal/observability/logger"
	"github.com/dropDatabas3/grantd/internal/store"
	storemem "github.com/dropDatabas3/grantd/internal/store/adapters/memory"
	storepg "github.com/dropDatabas3/grantd/internal/store/adapters/pg"
	storeredis "github.com/dropDatabas3/grantd/internal/store/adapters/redis"
	"github.com/dropDatabas3/grantd/internal/store/core"
	"github.com/dropDatabas3/grantd/migrations"
)

func main() {
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:   "grantd",
		Short: "OAuth2/OIDC authorization and token issuance engine",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "ruta del config YAML")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP y el sweep de expiración",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	hashSecret := &cobra.Command{
		Use:   "hash-secret <secret>",
		Short: "Genera el bcrypt hash de un client secret para el config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := catalog.HashSecret(args[0])
			if err != nil {
				return err
			}
			fmt.Println(h)
			return nil
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica las migraciones del grant store postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), configPath)
		},
	}

	root.AddCommand(serve, migrate, hashSecret)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       os.Getenv("LOG_LEVEL"),
		ServiceName: "grantd",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	grants, cleanup, err := buildGrantStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("grant store: %w", err)
	}
	defer cleanup()

	cat, err := catalog.New(cfg.Clients, cfg.Scopes)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	ks, err := jwt.NewKeystore()
	if err != nil {
		return fmt.Errorf("keystore: %w", err)
	}
	issuer := jwt.NewIssuer(cfg.JWT.Issuer, ks)
	issuer.AccessTTL = config.Dur(cfg.JWT.AccessTTL)

	svcs := oauth.NewServices(oauth.Deps{
		Catalog:            cat,
		Grants:             grants,
		Issuer:             issuer,
		Cache:              buildCache(cfg),
		CodeTTL:            config.Dur(cfg.OAuth.CodeTTL),
		RefreshTTL:         config.Dur(cfg.JWT.RefreshTTL),
		ConsentSessionTTL:  config.Dur(cfg.OAuth.ConsentSessionTTL),
		ConsentDefaultTTL:  config.Dur(cfg.OAuth.ConsentDefaultTTL),
		DeviceTTL:          config.Dur(cfg.Device.TTL),
		DevicePollInterval: config.Dur(cfg.Device.PollInterval),
		VerificationURI:    cfg.Device.VerificationURI,
	})

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	handler := hosthttp.NewHandler(hosthttp.HandlerDeps{
		Services: svcs,
		Catalog:  cat,
		Issuer:   issuer,
		Sessions: gatewaySessions{},
		LoginURL: os.Getenv("LOGIN_URL"),
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           hosthttp.NewRouter(handler, reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	sweeper := &store.Sweeper{Store: grants, Interval: config.Dur(cfg.Sweep.Interval)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		err := sweeper.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", logger.Err(err))
		return err
	}
	log.Info("bye")
	return nil
}

func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.Driver != "postgres" {
		return fmt.Errorf("migrate only applies to the postgres driver (got %q)", cfg.Storage.Driver)
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.Postgres.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	entries, err := fs.ReadDir(migrations.PostgresFS, migrations.PostgresDir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		sql, err := fs.ReadFile(migrations.PostgresFS, path.Join(migrations.PostgresDir, e.Name()))
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply %s: %w", e.Name(), err)
		}
		fmt.Println("applied", e.Name())
	}
	return nil
}

func buildGrantStore(ctx context.Context, cfg *config.Config) (core.GrantStore, func(), error) {
	switch cfg.Storage.Driver {
	case "postgres":
		s, err := storepg.Open(ctx, cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		s, err := storeredis.New(cfg.Storage.Redis.Addr, os.Getenv("REDIS_PASSWORD"), cfg.Storage.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return storemem.New(), func() {}, nil
	}
}

func buildCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.Kind == "redis" {
		return cacheredis.New(cfg.Cache.Redis.Addr, os.Getenv("REDIS_PASSWORD"), cfg.Cache.Redis.DB, cfg.Cache.Redis.Prefix)
	}
	return cachemem.New(config.Dur(cfg.Cache.Memory.DefaultTTL))
}

// gatewaySessions resuelve la sesión desde headers inyectados por un gateway
// de confianza. Un deployment real reemplaza esto por su propio resolver de
// cookies/sesiones.
type gatewaySessions struct{}

func (gatewaySessions) Resolve(r *http.Request) *oauth.Session {
	sub := r.Header.Get("X-Subject-ID")
	if sub == "" {
		return nil
	}
	sess := &oauth.Session{SubjectID: sub, SessionID: r.Header.Get("X-Session-ID"), AuthTime: time.Now()}
	if raw := r.Header.Get("X-Auth-Time"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			sess.AuthTime = t
		}
	}
	return sess
}
