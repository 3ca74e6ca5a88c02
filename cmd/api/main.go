package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hanko-field/fulfillment/internal/di"
	"github.com/hanko-field/fulfillment/internal/handlers"
	"github.com/hanko-field/fulfillment/internal/platform/auth"
	"github.com/hanko-field/fulfillment/internal/platform/config"
	"github.com/hanko-field/fulfillment/internal/platform/idempotency"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/platform/requestctx"
	"github.com/hanko-field/fulfillment/internal/platform/secrets"
	"github.com/hanko-field/fulfillment/internal/platform/textutil"
	"github.com/hanko-field/fulfillment/internal/services"
)

const meterName = "github.com/hanko-field/fulfillment/cmd/api"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	containerOpts := []di.Option{
		di.WithLogger(baseLogger),
		di.WithBuildInfo(buildInfo),
	}
	if secretProject(envValues) != "" {
		containerOpts = append(containerOpts, di.WithSecretProbe(secretProbe(fetcher)))
	}
	container, err := di.NewContainer(ctx, cfg, containerOpts...)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	verificationMetrics, err := observability.NewVerificationMetrics(otel.GetMeterProvider().Meter(meterName))
	if err != nil {
		logger.Warn("auth: verification metrics unavailable", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	idempotencyMiddleware := idempotency.Require(
		container.Idempotency,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, logger.Named("idempotency"), container.Idempotency, cfg.Idempotency)
		}()
	}

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Checkout, container.Services.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
		handlers.WithCheckoutRateLimit(cfg.Orders.CheckoutRateLimit, cfg.Orders.CheckoutRateWindow, time.Now),
	)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, container.Services.Orders)
	internalHandlers := handlers.NewInternalHandlers(container.Services.Orders)

	hmacValidator := buildHMACValidator(logger.Named("auth"), cfg, verificationMetrics)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Orders, hmacValidator,
		handlers.WithWebhookSecretFilter(knownSecret(cfg.Security.HMAC.Secrets)),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg, verificationMetrics); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("fulfillment api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Cleaner, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["FULFILLMENT_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["FULFILLMENT_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func secretProbe(fetcher *secrets.Fetcher) func(ctx context.Context) error {
	const secretHealthReference = "secret://system-healthz?version=latest"
	return func(ctx context.Context) error {
		_, err := fetcher.Resolve(ctx, secretHealthReference)
		if err == nil {
			return nil
		}
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return err
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(adapter))
	oidcOpts := []auth.OIDCOption{auth.WithOIDCLogger(adapter)}
	if metrics != nil {
		oidcOpts = append(oidcOpts, auth.WithOIDCMetrics(metrics))
	}
	validator := auth.NewOIDCValidator(cache, oidcOpts...)

	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	issuers := cfg.Security.OIDC.Issuers
	if len(issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}

	return validator.RequireOIDC(audience, issuers)
}

// buildHMACValidator returns nil when no webhook secret is configured; webhook routes then answer
// 503 instead of accepting unsigned callbacks.
func buildHMACValidator(logger *zap.Logger, cfg config.Config, metrics auth.MetricsRecorder) *auth.HMACValidator {
	configured := normalizeSecrets(cfg.Security.HMAC.Secrets)
	if len(configured) == 0 {
		logger.Warn("auth: no webhook secrets configured; webhook routes are disabled")
		return nil
	}

	provider := auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return "", errors.New("auth: secret name required")
		}
		if secret, ok := configured[key]; ok {
			return secret, nil
		}
		return "", errors.New("auth: secret not found")
	})
	opts := []auth.HMACOption{
		auth.WithHMACLogger(observability.NewPrintfAdapter(logger)),
		auth.WithHMACHeaders(cfg.Security.HMAC.SignatureHeader, cfg.Security.HMAC.TimestampHeader, cfg.Security.HMAC.NonceHeader),
		auth.WithHMACClockSkew(cfg.Security.HMAC.ClockSkew),
		auth.WithHMACNonceTTL(cfg.Security.HMAC.NonceTTL),
	}
	if metrics != nil {
		opts = append(opts, auth.WithHMACMetrics(metrics))
	}
	return auth.NewHMACValidator(provider, auth.NewInMemoryNonceStore(), opts...)
}

func knownSecret(secrets map[string]string) func(string) bool {
	configured := normalizeSecrets(secrets)
	return func(name string) bool {
		_, ok := configured[strings.ToLower(strings.TrimSpace(name))]
		return ok
	}
}

func normalizeSecrets(secrets map[string]string) map[string]string {
	return textutil.NormalizeStringMap(secrets, textutil.LowercaseKeys(), textutil.DropEmptyValues())
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	defaultProject := secretProject(env)
	fallbackPath := lookup("FULFILLMENT_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("FULFILLMENT_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.GetMeterProvider().Meter(meterName)),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if ttl, err := time.ParseDuration(lookup("FULFILLMENT_SECRET_CACHE_TTL")); err == nil {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func secretProject(env map[string]string) string {
	if project := strings.TrimSpace(env["FULFILLMENT_SECRET_DEFAULT_PROJECT_ID"]); project != "" {
		return project
	}
	return strings.TrimSpace(env["FULFILLMENT_FIREBASE_PROJECT_ID"])
}

// requiredSecretNames lists the webhook secrets named in FULFILLMENT_SECURITY_HMAC_SECRETS so
// startup fails when one of them resolves to an empty value.
func requiredSecretNames(env map[string]string) []string {
	raw := ""
	if env != nil {
		raw = env["FULFILLMENT_SECURITY_HMAC_SECRETS"]
	}
	values := parseKeyValueList(raw)
	required := make([]string, 0, len(values))
	for key := range values {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", strings.ToLower(key)))
	}
	sort.Strings(required)
	return required
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
