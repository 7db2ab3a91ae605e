package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/konnection/roomstate/internal/auth"
	"github.com/konnection/roomstate/internal/catalog"
	"github.com/konnection/roomstate/internal/chat"
	"github.com/konnection/roomstate/internal/config"
	"github.com/konnection/roomstate/internal/contracts"
	"github.com/konnection/roomstate/internal/database"
	"github.com/konnection/roomstate/internal/kvstore"
	"github.com/konnection/roomstate/internal/listings"
	"github.com/konnection/roomstate/internal/logging"
	"github.com/konnection/roomstate/internal/remote"
	"github.com/konnection/roomstate/internal/server"
	"github.com/konnection/roomstate/internal/session"
	"github.com/konnection/roomstate/internal/userdata"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "roomstate-api",
		Short: "Device-local state service for the rooms marketplace",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().StringSlice("allowed-origins", defaults.GetStringSlice("http.allowed_origins"), "Browser origins allowed to call the service")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("remote-base-url", defaults.GetString("remote.base_url"), "Rooms and chat API base URL")
	cmd.PersistentFlags().Int("remote-timeout-seconds", defaults.GetInt("remote.timeout_seconds"), "Timeout per remote request in seconds")
	cmd.PersistentFlags().Float64("remote-requests-per-second", defaults.GetFloat64("remote.requests_per_second"), "Outbound request rate; 0 disables pacing")
	cmd.PersistentFlags().Int("remote-max-attempts", defaults.GetInt("remote.max_attempts"), "Attempts per remote request")
	cmd.PersistentFlags().Int("documents-ttl-minutes", defaults.GetInt("documents.ttl_minutes"), "How long generated contracts stay available")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.allowed_origins", "allowed-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "remote.base_url", "remote-base-url")
	bindFlag(cmd, "remote.timeout_seconds", "remote-timeout-seconds")
	bindFlag(cmd, "remote.requests_per_second", "remote-requests-per-second")
	bindFlag(cmd, "remote.max_attempts", "remote-max-attempts")
	bindFlag(cmd, "documents.ttl_minutes", "documents-ttl-minutes")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := kvstore.NewStore(kvstore.StoreConfig{
		Database:    db,
		Broadcaster: kvstore.NewBroadcaster(),
		Clock:       time.Now,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.ManagerConfig{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	userData, err := userdata.NewService(userdata.ServiceConfig{Store: store, Identities: sessions, Logger: logger})
	if err != nil {
		return err
	}
	drafts, err := listings.NewRegistry(listings.RegistryConfig{
		Store:      store,
		IDProvider: listings.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	remoteClient, err := remote.NewClient(remote.ClientConfig{
		BaseURL:           appConfig.RemoteBaseURL,
		Timeout:           appConfig.RemoteTimeout,
		RequestsPerSecond: appConfig.RemoteRequestsPerSec,
		MaxAttempts:       appConfig.RemoteMaxAttempts,
		Logger:            logger,
	})
	if err != nil {
		return err
	}
	catalogService, err := catalog.NewService(remoteClient, drafts, logger)
	if err != nil {
		return err
	}

	threads, err := chat.NewThreads(chat.ThreadsConfig{Store: store, Logger: logger})
	if err != nil {
		return err
	}
	conversations, err := chat.NewConversation(threads, remoteClient, logger)
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessions,
		TokenManager:   tokenManager,
		UserData:       userData,
		Catalog:        catalogService,
		Drafts:         drafts,
		Threads:        threads,
		Conversations:  conversations,
		Documents:      contracts.NewVault(appConfig.DocumentsTTL),
		Changes:        store,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	// event streams only return once their request context ends
	httpServer.RegisterOnShutdown(cancelRequests)

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress), zap.String("remote", appConfig.RemoteBaseURL))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
