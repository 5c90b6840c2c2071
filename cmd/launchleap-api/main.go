package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Silence-tech/launchleap-discover-dwell/internal/accounts"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/auth"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/cache"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/config"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/database"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/logging"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/profiles"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/server"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/storage"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/tools"
	"github.com/Silence-tech/launchleap-discover-dwell/internal/users"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	tokenIssuer     = "launchleap-auth"
	tokenAudience   = "launchleap-api"
	shutdownTimeout = 10 * time.Second
	redisPingWindow = 2 * time.Second
)

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "launchleap-api",
		Short: "LaunchLeap product discovery backend",
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
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql, postgres)")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Database DSN or SQLite path")
	cmd.PersistentFlags().String("google-client-id", defaults.GetString("google.client_id"), "Google OAuth client ID")
	cmd.PersistentFlags().String("google-jwks-url", defaults.GetString("google.jwks_url"), "Google JWKS URL")
	cmd.PersistentFlags().Duration("token-ttl", defaults.GetDuration("auth.token_ttl"), "Session token lifetime")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-root", defaults.GetString("storage.root"), "Directory holding uploaded objects")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("storage.public_base_url"), "Public URL of this server")
	cmd.PersistentFlags().String("redis-address", "", "Redis address for shared caches (in-memory when empty)")
	cmd.PersistentFlags().StringSlice("allowed-origins", nil, "Browser origins allowed by CORS")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "google.client_id", "google-client-id")
	bindFlag(cmd, "google.jwks_url", "google-jwks-url")
	bindFlag(cmd, "auth.token_ttl", "token-ttl")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.root", "storage-root")
	bindFlag(cmd, "storage.public_base_url", "public-base-url")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "site.allowed_origins", "allowed-origins")
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

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sharedCache, closeCache := openCache(ctx, appConfig, logger)
	defer closeCache()
	revocations := auth.NewRevocationStore(sharedCache, nil)

	tokenIssuerService, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        tokenIssuer,
		Audience:      tokenAudience,
		Revocations:   revocations,
	})
	if err != nil {
		return err
	}

	googleVerifier, err := auth.NewGoogleVerifier(auth.GoogleVerifierConfig{
		ClientID: appConfig.GoogleClientID,
		JWKSURL:  appConfig.GoogleJWKSURL,
		KeyCache: sharedCache,
		Logger:   logger.Named("google"),
	})
	if err != nil {
		return err
	}

	var oauthFlow server.OAuthFlow
	if appConfig.OAuthEnabled() {
		googleOAuth, err := auth.NewGoogleOAuth(auth.GoogleOAuthConfig{
			ClientID:     appConfig.GoogleClientID,
			ClientSecret: appConfig.GoogleClientSecret,
			RedirectURL:  appConfig.GoogleRedirectURL,
		})
		if err != nil {
			return err
		}
		oauthFlow = googleOAuth
	} else {
		logger.Info("google oauth code flow disabled; only id token sign-in is available")
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    time.Now,
	})
	if err != nil {
		return err
	}

	profileService, err := profiles.NewService(profiles.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: profiles.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	toolService, err := tools.NewService(tools.ServiceConfig{
		Database:    db,
		Clock:       time.Now,
		Logger:      logger,
		Cache:       sharedCache,
		ListTimeout: appConfig.ToolsListTimeout,
	})
	if err != nil {
		return err
	}

	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Database:   db,
		Identities: userService,
		Tools:      toolService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	objectStore, err := storage.New(storage.Config{
		Root:          appConfig.StorageRoot,
		PublicBaseURL: appConfig.PublicBaseURL,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		IdentityVerifier: googleVerifier,
		SessionTokens:    tokenIssuerService,
		SessionValidator: sessionValidator,
		TokenRevoker:     revocations,
		OAuth:            oauthFlow,
		Users:            userService,
		Profiles:         profileService,
		Tools:            toolService,
		Accounts:         accountService,
		Storage:          objectStore,
		Events:           server.NewAuthEventHub(logger.Named("events")),
		AllowedOrigins:   appConfig.AllowedOrigins,
		SecureCookies:    strings.HasPrefix(appConfig.PublicBaseURL, "https://"),
		Logger:           logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("database_driver", appConfig.DatabaseDriver),
		)
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// openCache prefers redis so trending listings, revocations and Google keys are shared
// between replicas. An unreachable redis is logged and served fail-safe.
func openCache(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (cache.Store, func()) {
	if appConfig.RedisAddress == "" {
		return cache.NewMemory(time.Now), func() {}
	}
	redisStore := cache.NewRedis(cache.RedisConfig{
		Address:  appConfig.RedisAddress,
		Password: appConfig.RedisPassword,
		DB:       appConfig.RedisDB,
		Logger:   logger,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingWindow)
	defer cancel()
	if err := redisStore.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable; caches degrade to misses", zap.String("address", appConfig.RedisAddress), zap.Error(err))
	}
	return redisStore, func() {
		if err := redisStore.Close(); err != nil {
			logger.Warn("closing redis", zap.Error(err))
		}
	}
}
