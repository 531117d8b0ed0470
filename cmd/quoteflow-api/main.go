package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quoteflow/backend/internal/auth"
	"github.com/quoteflow/backend/internal/catalog"
	"github.com/quoteflow/backend/internal/config"
	"github.com/quoteflow/backend/internal/database"
	"github.com/quoteflow/backend/internal/logging"
	"github.com/quoteflow/backend/internal/notify"
	"github.com/quoteflow/backend/internal/quote"
	"github.com/quoteflow/backend/internal/server"
	"github.com/quoteflow/backend/internal/signature"
	syncpkg "github.com/quoteflow/backend/internal/sync"
	"github.com/quoteflow/backend/internal/users"
	"github.com/quoteflow/backend/internal/woocommerce"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quoteflow-api",
		Short: "Quote lifecycle and catalog cache backend service",
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
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("app-base-url", defaults.GetString("app.base_url"), "Public base URL used in signature links")
	cmd.PersistentFlags().String("catalog-base-url", defaults.GetString("catalog.base_url"), "WooCommerce store base URL")
	cmd.PersistentFlags().Int("sync-interval-minutes", defaults.GetInt("sync.interval_minutes"), "Scheduled sync interval in minutes (0 disables)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Bearer token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "app.base_url", "app-base-url")
	bindFlag(cmd, "catalog.base_url", "catalog-base-url")
	bindFlag(cmd, "sync.interval_minutes", "sync-interval-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

	db, err := database.Open(appConfig.DatabaseDriver, appConfig.DatabaseDSN, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "quoteflow-auth",
		Audience:      "quoteflow-api",
		TokenTTL:      12 * time.Hour,
	})
	if err != nil {
		return err
	}

	directory, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	catalogStore, err := catalog.NewStore(catalog.StoreConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	catalogClient := woocommerce.NewClient(woocommerce.Config{
		BaseURL:        appConfig.CatalogBaseURL,
		ConsumerKey:    appConfig.CatalogConsumerKey,
		ConsumerSecret: appConfig.CatalogConsumerSecret,
		Timeout:        appConfig.CatalogTimeout,
	}, logger)

	syncEngine, err := syncpkg.NewEngine(syncpkg.EngineConfig{
		Database: db,
		Store:    catalogStore,
		Source:   catalogClient,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	quoteService, err := quote.NewService(quote.ServiceConfig{
		Database:   db,
		IDProvider: quote.NewUUIDProvider(),
		Logger:     logger,
		LinkTTL:    appConfig.SignatureLinkTTL,
		AppBaseURL: appConfig.AppBaseURL,
	})
	if err != nil {
		return err
	}

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Email: notify.NewSMTPEmailSender(notify.EmailConfig{
			Enabled:          appConfig.EmailEnabled,
			From:             appConfig.EmailFrom,
			SMTPHost:         appConfig.SMTPHost,
			SMTPPort:         appConfig.SMTPPort,
			SMTPUser:         appConfig.SMTPUser,
			SMTPPassword:     appConfig.SMTPPassword,
			ProductionEmails: appConfig.ProductionEmails,
		}, logger),
		Webhook: notify.NewHTTPWebhookSender(notify.WebhookConfig{
			SignedURL:   appConfig.WebhookSignedURL,
			RejectedURL: appConfig.WebhookRejectedURL,
			Timeout:     appConfig.WebhookTimeout,
		}, logger),
		Logger: logger,
	})
	defer dispatcher.Close()

	signatureService, err := signature.NewService(signature.ServiceConfig{
		Quotes:       quoteService,
		Catalog:      catalogStore,
		Notifier:     dispatcher,
		ResolveEmail: directory.EmailFor,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Quotes:         quoteService,
		Signatures:     signatureService,
		SyncEngine:     syncEngine,
		Catalog:        catalogStore,
		Tokens:         tokenIssuer,
		Directory:      directory,
		StaleThreshold: appConfig.StaleThreshold,
		SyncBatchSize:  appConfig.SyncBatchSize,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := syncpkg.NewScheduler(syncEngine, appConfig.SyncInterval, appConfig.SyncBatchSize, logger)
	go scheduler.Start(signalCtx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
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
