package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyemirov/oauthrelay/internal/authkit"
	"github.com/tyemirov/oauthrelay/internal/sessionpg"
	"github.com/tyemirov/oauthrelay/internal/web"
	webassets "github.com/tyemirov/oauthrelay/web"
	"go.uber.org/zap"
)

var serveHTTP = func(server *http.Server) error {
	return server.ListenAndServe()
}

var buildIdentityVerifier = func(ctx context.Context, audience string) (authkit.IdentityVerifier, error) {
	return authkit.NewGoogleIdentityVerifier(ctx, audience)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "oauthrelay",
		Short:   "OAuth 2.0 authorization-code relay between an SPA and Google, with cookie sessions",
		PreRunE: prepareServerConfig,
		RunE:    runServer,
	}

	rootCmd.Flags().String("listen_addr", ":8080", "HTTP listen address")
	rootCmd.Flags().String("google_client_id", "", "Google OAuth client ID")
	rootCmd.Flags().String("google_client_secret", "", "Google OAuth client secret")
	rootCmd.Flags().String("redirect_url", "", "OAuth redirect URL registered with Google (this server's callback)")
	rootCmd.Flags().String("frontend_url", "http://localhost:3000", "Frontend origin the browser is redirected back to")
	rootCmd.Flags().String("jwt_signing_key", "", "HS256 signing secret for the session cookie")
	rootCmd.Flags().String("cookie_domain", "", "Cookie domain; empty for host-only")
	rootCmd.Flags().Duration("session_ttl", 24*time.Hour, "Session cookie TTL")
	rootCmd.Flags().Duration("state_ttl", 10*time.Minute, "Anti-CSRF state token lifetime")
	rootCmd.Flags().String("environment", "development", "Deployment mode reported by the health endpoint")
	rootCmd.Flags().Bool("dev_insecure_http", false, "Allow insecure HTTP cookies for local dev")
	rootCmd.Flags().Bool("enable_cors", false, "Enable CORS for cross-origin frontends (required to set SameSite=None cookies)")
	rootCmd.Flags().StringSlice("cors_allowed_origins", []string{}, "Allowed origins when CORS is enabled (required if enable_cors is true)")
	rootCmd.Flags().StringSlice("cors_dev_hosts", []string{}, "Hostnames allowed to use plain http origins without a warning (default localhost, 127.0.0.1)")
	rootCmd.Flags().String("database_url", "", "Database URL for session records (postgres:// or sqlite://; leave empty for in-memory store)")
	rootCmd.Flags().String("pg_driver", "gorm", "Driver for postgres database URLs: gorm or pgx")
	rootCmd.Flags().Bool("verify_id_token", true, "Verify the id_token returned by the code exchange")

	for _, name := range []string{
		"listen_addr", "google_client_id", "google_client_secret", "redirect_url",
		"frontend_url", "jwt_signing_key", "cookie_domain", "session_ttl",
		"state_ttl", "environment", "dev_insecure_http", "enable_cors",
		"cors_allowed_origins", "cors_dev_hosts", "database_url", "pg_driver",
		"verify_id_token",
	} {
		_ = viper.BindPFlag(name, rootCmd.Flags().Lookup(name))
	}

	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	return rootCmd
}

const (
	sessionCookieName = "relay_session"

	configCodeMissingGoogleClientID     = "config.missing_google_client_id"
	configCodeMissingGoogleClientSecret = "config.missing_google_client_secret"
	configCodeMissingRedirectURL        = "config.missing_redirect_url"
	configCodeInvalidFrontendURL        = "config.invalid_frontend_url"
	configCodeMissingJWTSigningKey      = "config.missing_jwt_signing_key"
	configCodeInvalidSessionTTL         = "config.invalid_session_ttl"
	configCodeInvalidStateTTL           = "config.invalid_state_ttl"
	configCodeUninitializedServerConf   = "config.uninitialized_server_config"
	configCodeIdentityVerifierInit      = "config.identity_verifier_init"
	configCodeUnsupportedPGDriver       = "config.unsupported_pg_driver"
)

type contextKey string

const serverConfigContextKey contextKey = "serverConfig"

func prepareServerConfig(command *cobra.Command, arguments []string) error {
	serverConfig, loadErr := LoadServerConfig()
	if loadErr != nil {
		return loadErr
	}
	existingContext := command.Context()
	if existingContext == nil {
		existingContext = context.Background()
	}
	command.SetContext(context.WithValue(existingContext, serverConfigContextKey, serverConfig))
	return nil
}

func configError(code, message string) error {
	return fmt.Errorf("%s: %s", code, message)
}

func LoadServerConfig() (authkit.ServerConfig, error) {
	googleClientID := viper.GetString("google_client_id")
	if googleClientID == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientID, "google_client_id must be provided")
	}

	googleClientSecret := viper.GetString("google_client_secret")
	if googleClientSecret == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingGoogleClientSecret, "google_client_secret must be provided")
	}

	redirectURL := viper.GetString("redirect_url")
	if redirectURL == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingRedirectURL, "redirect_url must be provided")
	}

	frontendURL := viper.GetString("frontend_url")
	if parsed, parseErr := url.Parse(frontendURL); parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return authkit.ServerConfig{}, configError(configCodeInvalidFrontendURL, "frontend_url must be an absolute URL")
	}

	jwtSigningKey := viper.GetString("jwt_signing_key")
	if jwtSigningKey == "" {
		return authkit.ServerConfig{}, configError(configCodeMissingJWTSigningKey, "jwt_signing_key must be provided")
	}

	sessionTTL := viper.GetDuration("session_ttl")
	if sessionTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidSessionTTL, "session_ttl must be greater than zero")
	}

	stateTTL := viper.GetDuration("state_ttl")
	if stateTTL <= 0 {
		return authkit.ServerConfig{}, configError(configCodeInvalidStateTTL, "state_ttl must be greater than zero")
	}

	return authkit.ServerConfig{
		GoogleClientID:     googleClientID,
		GoogleClientSecret: googleClientSecret,
		RedirectURL:        redirectURL,
		FrontendURL:        frontendURL,
		AppJWTSigningKey:   []byte(jwtSigningKey),
		AppJWTIssuer:       "mprlab-relay",
		CookieDomain:       viper.GetString("cookie_domain"),
		SessionCookieName:  sessionCookieName,
		SessionTTL:         sessionTTL,
		StateTTL:           stateTTL,
		Environment:        viper.GetString("environment"),
	}, nil
}

func runServer(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	commandContext := command.Context()
	var contextValue any
	if commandContext != nil {
		contextValue = commandContext.Value(serverConfigContextKey)
	}
	serverConfig, ok := contextValue.(authkit.ServerConfig)
	if !ok {
		return configError(configCodeUninitializedServerConf, "server configuration not prepared; PreRunE must execute before RunE")
	}

	listenAddr := viper.GetString("listen_addr")
	devInsecureHTTP := viper.GetBool("dev_insecure_http")
	databaseURL := viper.GetString("database_url")
	enableCORS := viper.GetBool("enable_cors")
	corsAllowedOrigins := viper.GetStringSlice("cors_allowed_origins")
	verifyIDToken := viper.GetBool("verify_id_token")

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(zapLoggerMiddleware(logger))

	if enableCORS {
		corsMiddleware, corsErr := web.ConfigureCORS(logger, web.CORSOptions{
			AllowedOrigins:   corsAllowedOrigins,
			DevelopmentHosts: viper.GetStringSlice("cors_dev_hosts"),
		})
		if corsErr != nil {
			return corsErr
		}
		router.Use(corsMiddleware)
	}

	serverConfig.AllowInsecureHTTP = devInsecureHTTP
	serverConfig.SameSiteMode = http.SameSiteLaxMode
	if enableCORS {
		serverConfig.SameSiteMode = http.SameSiteNoneMode
	}

	clock := authkit.NewSystemClock()

	router.GET("/healthz", web.HandleHealth(serverConfig.Environment, clock.Now))

	router.GET("/static/auth-client.js", func(contextGin *gin.Context) {
		web.ServeEmbeddedStaticJS(contextGin, webassets.FS, "auth-client.js")
	})

	router.GET("/client-config.js", func(contextGin *gin.Context) {
		web.ServeClientConfig(contextGin, web.ClientConfig{})
	})

	sessionStore, storeErr := buildSessionStore(command.Context(), databaseURL, logger)
	if storeErr != nil {
		return storeErr
	}

	stateStore := authkit.NewMemoryStateStore(serverConfig.StateTTL)
	exchanger := authkit.NewGoogleExchanger(serverConfig)

	var verifier authkit.IdentityVerifier
	if verifyIDToken {
		builtVerifier, verifierErr := buildIdentityVerifier(command.Context(), serverConfig.GoogleClientID)
		if verifierErr != nil {
			return fmt.Errorf("%s: %w", configCodeIdentityVerifierInit, verifierErr)
		}
		verifier = builtVerifier
	}

	metricsRecorder := authkit.NewCounterMetrics()
	flow := authkit.NewLoginFlow(stateStore, sessionStore, exchanger, verifier, logger, metricsRecorder)
	issuer := authkit.NewSessionIssuer(serverConfig, clock)

	authkit.MountAuthRoutes(router, serverConfig, flow, sessionStore, issuer, logger)

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	go func() {
		stopSignals := make(chan os.Signal, 1)
		signal.Notify(stopSignals, syscall.SIGINT, syscall.SIGTERM)
		<-stopSignals
		graceCtx, graceCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		defer graceCancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", listenAddr))
	if err := serveHTTP(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen error: %w", err)
	}
	return nil
}

func buildSessionStore(ctx context.Context, databaseURL string, logger *zap.Logger) (authkit.SessionStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if databaseURL == "" {
		logger.Info("using in-memory session store")
		return authkit.NewMemorySessionStore(), nil
	}

	pgDriver := strings.ToLower(viper.GetString("pg_driver"))
	parsed, parseErr := url.Parse(databaseURL)
	if parseErr == nil && (parsed.Scheme == "postgres" || parsed.Scheme == "postgresql") && pgDriver == "pgx" {
		pool, poolErr := sessionpg.BuildPool(ctx, databaseURL)
		if poolErr != nil {
			return nil, poolErr
		}
		if schemaErr := sessionpg.EnsureSchema(ctx, pool); schemaErr != nil {
			return nil, schemaErr
		}
		logger.Info("using persistent session store", zap.String("driver", "pgx"))
		return sessionpg.NewPostgresSessionStore(pool), nil
	}
	if pgDriver != "gorm" && pgDriver != "pgx" {
		return nil, configError(configCodeUnsupportedPGDriver, "pg_driver must be gorm or pgx")
	}

	persistentStore, storeErr := authkit.NewDatabaseSessionStore(ctx, databaseURL)
	if storeErr != nil {
		return nil, storeErr
	}
	logger.Info("using persistent session store", zap.String("driver", persistentStore.Driver()))
	return persistentStore, nil
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		startTime := time.Now()
		contextGin.Next()
		duration := time.Since(startTime)
		logger.Info("http",
			zap.String("method", contextGin.Request.Method),
			zap.String("path", contextGin.Request.URL.Path),
			zap.Int("status", contextGin.Writer.Status()),
			zap.String("ip", contextGin.ClientIP()),
			zap.Duration("elapsed", duration),
		)
	}
}
