package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/MarkoPoloResearchLab/inventory/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/inventory/internal/httpapi"
	"github.com/MarkoPoloResearchLab/inventory/internal/oplog"
	"github.com/MarkoPoloResearchLab/inventory/internal/seed"
	"github.com/MarkoPoloResearchLab/inventory/pkg/inventory"
)

const (
	flagConfig            = "config"
	flagStore             = "store"
	flagDatabaseURL       = "database-url"
	flagGRPCListenAddr    = "grpc-listen-addr"
	flagHTTPListenAddr    = "http-listen-addr"
	flagReservationTTL    = "reservation-ttl"
	flagSweepInterval     = "sweep-interval"
	flagLowStockThreshold = "low-stock-threshold"
	flagAllowedOrigins    = "allowed-origins"
	flagAdminJWTKey       = "admin-jwt-key"
	flagSeedFile          = "seed-file"
	flagFile              = "file"

	defaultStore             = storeMemory
	defaultDatabaseURL       = "sqlite:///tmp/inventory.db"
	defaultGRPCListenAddr    = ":7000"
	defaultHTTPListenAddr    = ":8080"
	defaultReservationTTL    = 15 * time.Minute
	defaultSweepInterval     = time.Second
	defaultLowStockThreshold = 5
	defaultAllowedOrigins    = "http://localhost:8000"
)

var envBindings = map[string]string{
	flagConfig:            "INVENTORY_CONFIG",
	flagStore:             "INVENTORY_STORE",
	flagDatabaseURL:       "DATABASE_URL",
	flagGRPCListenAddr:    "GRPC_LISTEN_ADDR",
	flagHTTPListenAddr:    "HTTP_LISTEN_ADDR",
	flagReservationTTL:    "RESERVATION_TTL",
	flagSweepInterval:     "SWEEP_INTERVAL",
	flagLowStockThreshold: "LOW_STOCK_THRESHOLD",
	flagAllowedOrigins:    "ALLOWED_ORIGINS",
	flagAdminJWTKey:       "ADMIN_JWT_KEY",
	flagSeedFile:          "SEED_FILE",
}

type runtimeConfig struct {
	Store             string
	DatabaseURL       string
	GRPCListenAddr    string
	HTTPListenAddr    string
	ReservationTTL    time.Duration
	SweepInterval     time.Duration
	LowStockThreshold int64
	AllowedOrigins    []string
	AdminJWTKey       string
	SeedFile          string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "inventoryd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "inventoryd",
		Short:         "Ticket inventory and reservation server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCommand(), newSeedCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC and HTTP servers and the reservation sweeper",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			return cfg.validateServe()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	addStoreFlags(cmd.Flags())
	cmd.Flags().String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	cmd.Flags().String(flagHTTPListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().Duration(flagReservationTTL, defaultReservationTTL, "default reservation hold duration")
	cmd.Flags().Duration(flagSweepInterval, defaultSweepInterval, "interval between expiry sweeps")
	cmd.Flags().Int64(flagLowStockThreshold, defaultLowStockThreshold, "public seats at or below which a tier is low on stock")
	cmd.Flags().String(flagAllowedOrigins, defaultAllowedOrigins, "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagAdminJWTKey, "", "HS256 key for admin bearer tokens (required)")
	cmd.Flags().String(flagSeedFile, "", "optional YAML file of event capacities created at start-up")
	return cmd
}

func newSeedCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create inventory records from a YAML file",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfg); err != nil {
				return err
			}
			path, err := cmd.Flags().GetString(flagFile)
			if err != nil {
				return err
			}
			cfg.SeedFile = path
			if strings.TrimSpace(cfg.SeedFile) == "" {
				return fmt.Errorf("--%s is required", flagFile)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cfg)
		},
	}

	addStoreFlags(cmd.Flags())
	cmd.Flags().String(flagFile, "", "YAML seed file (required)")
	return cmd
}

func addStoreFlags(flags *pflag.FlagSet) {
	flags.String(flagConfig, "", "optional YAML config file; keys match flag names")
	flags.String(flagStore, defaultStore, "storage backend: memory, gorm or pgx")
	flags.String(flagDatabaseURL, defaultDatabaseURL, "database connection string (sqlite path/url or postgres url)")
}

// loadConfig resolves every flag the command defines. Precedence is explicit
// flag, then env, then config file, then flag default.
func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var bindErr error
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if bindErr != nil {
			return
		}
		if envName, ok := envBindings[flag.Name]; ok {
			if err := v.BindEnv(flag.Name, envName); err != nil {
				bindErr = err
				return
			}
		}
		bindErr = v.BindPFlag(flag.Name, flag)
	})
	if bindErr != nil {
		return bindErr
	}

	if path := v.GetString(flagConfig); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(v.GetString(flagStore)))
	cfg.DatabaseURL = v.GetString(flagDatabaseURL)
	cfg.GRPCListenAddr = v.GetString(flagGRPCListenAddr)
	cfg.HTTPListenAddr = v.GetString(flagHTTPListenAddr)
	cfg.ReservationTTL = v.GetDuration(flagReservationTTL)
	cfg.SweepInterval = v.GetDuration(flagSweepInterval)
	cfg.LowStockThreshold = v.GetInt64(flagLowStockThreshold)
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.AdminJWTKey = v.GetString(flagAdminJWTKey)
	cfg.SeedFile = v.GetString(flagSeedFile)

	if cfg.Store == "" {
		cfg.Store = defaultStore
	}
	switch cfg.Store {
	case storeMemory, storeGorm, storePgx:
	default:
		return fmt.Errorf("unsupported store %q", cfg.Store)
	}
	if cfg.Store != storeMemory && cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required for the %s store", cfg.Store)
	}
	return nil
}

func (cfg *runtimeConfig) validateServe() error {
	if cfg.GRPCListenAddr == "" {
		return fmt.Errorf("%s is required", flagGRPCListenAddr)
	}
	if cfg.HTTPListenAddr == "" {
		return fmt.Errorf("%s is required", flagHTTPListenAddr)
	}
	if cfg.ReservationTTL <= 0 {
		return fmt.Errorf("%s must be positive", flagReservationTTL)
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("%s must be positive", flagSweepInterval)
	}
	if cfg.LowStockThreshold < 0 {
		return fmt.Errorf("%s must not be negative", flagLowStockThreshold)
	}
	if strings.TrimSpace(cfg.AdminJWTKey) == "" {
		return fmt.Errorf("%s is required", flagAdminJWTKey)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	service, err := inventory.NewService(store, time.Now,
		inventory.WithOperationLogger(oplog.New(logger)),
		inventory.WithReservationTTL(cfg.ReservationTTL),
		inventory.WithLowStockThreshold(cfg.LowStockThreshold),
	)
	if err != nil {
		return fmt.Errorf("inventory service init: %w", err)
	}

	if cfg.SeedFile != "" {
		if err := seedFromFile(ctx, service, cfg.SeedFile, logger); err != nil {
			return err
		}
	}

	sweeper, err := inventory.NewSweeper(service,
		inventory.WithSweepInterval(cfg.SweepInterval),
		inventory.WithSweepObserver(func(expired int, sweepErr error) {
			if sweepErr != nil {
				logger.Warn("reservation sweep failed", zap.Int("expired", expired), zap.Error(sweepErr))
				return
			}
			logger.Info("reservations expired", zap.Int("expired", expired))
		}),
	)
	if err != nil {
		return fmt.Errorf("sweeper init: %w", err)
	}

	httpConfig := httpapi.Config{
		ListenAddr:     cfg.HTTPListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		AdminJWTKey:    cfg.AdminJWTKey,
	}
	if err := httpConfig.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	grpcServer := grpc.NewServer()
	grpcserver.Register(grpcServer, grpcserver.NewInventoryServiceServer(service))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		sweeper.Run(runCtx)
	}()

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		grpcErrCh <- grpcServer.Serve(lis)
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpapi.Run(runCtx, httpConfig, httpapi.NewRouter(httpConfig, service, logger), logger)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr := <-grpcErrCh:
		if serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) {
			runErr = fmt.Errorf("grpc serve: %w", serveErr)
		}
		grpcErrCh <- nil
	case serveErr := <-httpErrCh:
		if serveErr != nil {
			runErr = fmt.Errorf("http serve: %w", serveErr)
		}
		httpErrCh <- nil
	}

	cancel()
	grpcServer.GracefulStop()
	if serveErr := <-grpcErrCh; serveErr != nil && !errors.Is(serveErr, grpc.ErrServerStopped) && runErr == nil {
		runErr = fmt.Errorf("grpc serve: %w", serveErr)
	}
	if serveErr := <-httpErrCh; serveErr != nil && runErr == nil {
		runErr = fmt.Errorf("http serve: %w", serveErr)
	}
	<-sweepDone
	logger.Info("shutdown complete")
	return runErr
}

func runSeed(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Store == storeMemory {
		logger.Warn("seeding the memory store only lasts for this process")
	}
	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer cleanup()

	service, err := inventory.NewService(store, time.Now, inventory.WithOperationLogger(oplog.New(logger)))
	if err != nil {
		return fmt.Errorf("inventory service init: %w", err)
	}
	return seedFromFile(ctx, service, cfg.SeedFile, logger)
}

func seedFromFile(ctx context.Context, loader seed.Loader, path string, logger *zap.Logger) error {
	definitions, err := seed.LoadFile(path)
	if err != nil {
		return err
	}
	result, err := seed.Apply(ctx, loader, definitions)
	if err != nil {
		return err
	}
	logger.Info("seed applied",
		zap.String("file", path),
		zap.Int("created", result.Created),
		zap.Int("skipped", result.Skipped))
	return nil
}
