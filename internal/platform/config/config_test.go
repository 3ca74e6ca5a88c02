package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{"FULFILLMENT_FIREBASE_PROJECT_ID": "shop-dev"}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Firestore.ProjectID != "shop-dev" || cfg.PubSub.ProjectID != "shop-dev" {
		t.Errorf("expected projects to default to firebase project, got firestore=%s pubsub=%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.PubSub.OrderEventsTopic != defaultOrderEventsTopic || cfg.PubSub.ShopNotifications != defaultShopNotifyTopic {
		t.Errorf("unexpected default topics: %+v", cfg.PubSub)
	}
	if cfg.Orders.PaymentExpiry != defaultPaymentExpiry {
		t.Errorf("unexpected payment expiry %s", cfg.Orders.PaymentExpiry)
	}
	if cfg.Orders.NumberLength != 10 || cfg.Orders.NumberAttempts != 8 {
		t.Errorf("unexpected order number settings: %+v", cfg.Orders)
	}
	if cfg.Orders.CheckoutRateLimit != defaultCheckoutRateLimit || cfg.Orders.CheckoutRateWindow != time.Minute {
		t.Errorf("unexpected checkout rate settings: %+v", cfg.Orders)
	}
	if cfg.Orders.NotificationTimeout != 5*time.Second {
		t.Errorf("unexpected notification timeout %s", cfg.Orders.NotificationTimeout)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultSecurityIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Security.HMAC.SignatureHeader != defaultHMACSignatureHeader {
		t.Errorf("expected default signature header, got %s", cfg.Security.HMAC.SignatureHeader)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_SERVER_PORT":                     "9090",
		"FULFILLMENT_SERVER_IDLE_TIMEOUT":             "2m",
		"FULFILLMENT_FIREBASE_PROJECT_ID":             "shop-prod",
		"FULFILLMENT_FIRESTORE_PROJECT_ID":            "shop-fire",
		"FULFILLMENT_PUBSUB_ORDER_EVENTS_TOPIC":       "orders-prod",
		"FULFILLMENT_ORDERS_PAYMENT_EXPIRY":           "48h",
		"FULFILLMENT_ORDERS_NUMBER_ATTEMPTS":          "4",
		"FULFILLMENT_SECURITY_ENVIRONMENT":            "PROD",
		"FULFILLMENT_SECURITY_OIDC_AUDIENCES":         "prod=https://fulfillment.example.com,stg=https://stg.example.com",
		"FULFILLMENT_SECURITY_OIDC_ISSUERS":           "https://accounts.google.com, https://cloud.google.com/iap",
		"FULFILLMENT_SECURITY_HMAC_SECRETS":           "carriers=secret://hmac/carriers,payments=payments-secret",
		"FULFILLMENT_SECURITY_HMAC_HEADER_SIGNATURE":  "X-Custom-Signature",
		"FULFILLMENT_SECURITY_HMAC_CLOCK_SKEW":        "3m",
		"FULFILLMENT_IDEMPOTENCY_HEADER":              "X-Idem-Key",
		"FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH":       "500",
		"FULFILLMENT_PUBSUB_SHOP_NOTIFICATIONS_TOPIC": "mail-prod",
	}

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref == "secret://hmac/carriers" {
			return "carrier-hmac", nil
		}
		return "", errors.New("not found")
	})

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.IdleTimeout != 2*time.Minute {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Firestore.ProjectID != "shop-fire" || cfg.PubSub.ProjectID != "shop-fire" {
		t.Errorf("expected pubsub project to follow firestore, got %+v", cfg.PubSub)
	}
	if cfg.PubSub.OrderEventsTopic != "orders-prod" || cfg.PubSub.ShopNotifications != "mail-prod" {
		t.Errorf("unexpected topics %+v", cfg.PubSub)
	}
	if cfg.Orders.PaymentExpiry != 48*time.Hour || cfg.Orders.NumberAttempts != 4 {
		t.Errorf("unexpected orders config %+v", cfg.Orders)
	}
	if cfg.Security.Environment != "prod" {
		t.Errorf("expected lower-cased environment, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.Audience != "https://fulfillment.example.com" {
		t.Errorf("expected audience selected by environment, got %s", cfg.Security.OIDC.Audience)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("unexpected issuers %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Security.HMAC.Secrets["carriers"] != "carrier-hmac" {
		t.Errorf("expected resolved carrier secret, got %s", cfg.Security.HMAC.Secrets["carriers"])
	}
	if cfg.Security.HMAC.Secrets["payments"] != "payments-secret" {
		t.Errorf("expected literal payment secret, got %s", cfg.Security.HMAC.Secrets["payments"])
	}
	if cfg.Security.HMAC.SignatureHeader != "X-Custom-Signature" || cfg.Security.HMAC.ClockSkew != 3*time.Minute {
		t.Errorf("unexpected hmac config %+v", cfg.Security.HMAC)
	}
	if cfg.Idempotency.Header != "X-Idem-Key" || cfg.Idempotency.CleanupBatchSize != 500 {
		t.Errorf("unexpected idempotency config %+v", cfg.Idempotency)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "FULFILLMENT_SERVER_PORT=7070\nexport FULFILLMENT_FIREBASE_PROJECT_ID=\"shop-dot\"\n"
	if err := os.WriteFile(envPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write dotenv file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(envPath), WithoutSystemEnv())
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Errorf("expected port from dotenv 7070, got %s", cfg.Server.Port)
	}
	if cfg.Firebase.ProjectID != "shop-dot" {
		t.Errorf("expected firebase project from dotenv, got %s", cfg.Firebase.ProjectID)
	}
}

func TestLoadRejectsInvalidOrdersSettings(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_FIREBASE_PROJECT_ID":    "shop-dev",
		"FULFILLMENT_ORDERS_NUMBER_LENGTH":   "3",
		"FULFILLMENT_ORDERS_NUMBER_ATTEMPTS": "0",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validation.Fields()
	if len(fields) != 2 || fields[0] != "Orders.NumberLength" || fields[1] != "Orders.NumberAttempts" {
		t.Fatalf("unexpected invalid fields %v", fields)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{}), WithoutSystemEnv(), WithEnvFile(""))
	if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	env := map[string]string{
		"FULFILLMENT_FIREBASE_PROJECT_ID":   "shop-dev",
		"FULFILLMENT_SECURITY_HMAC_SECRETS": "carriers=sm://missing",
	}

	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %T", err)
	}
	if secretErr.Ref != "secret://missing" {
		t.Errorf("expected normalised ref, got %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "FULFILLMENT_FIREBASE_PROJECT_ID=dot-project\nFULFILLMENT_SECRET_FALLBACK_FILE=.dot.local\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing env file: %v", err)
	}

	t.Setenv("FULFILLMENT_FIREBASE_PROJECT_ID", "os-project")
	t.Setenv("FULFILLMENT_SECRET_PROJECT_IDS", "prod=project-prod")

	values, err := EnvironmentValues(WithEnvFile(envPath), WithEnvMap(map[string]string{
		"FULFILLMENT_FIREBASE_PROJECT_ID": "override-project",
	}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if got := values["FULFILLMENT_FIREBASE_PROJECT_ID"]; got != "override-project" {
		t.Fatalf("expected override project, got %s", got)
	}
	if got := values["FULFILLMENT_SECRET_FALLBACK_FILE"]; got != ".dot.local" {
		t.Fatalf("expected dotenv fallback file, got %s", got)
	}
	if got := values["FULFILLMENT_SECRET_PROJECT_IDS"]; got != "prod=project-prod" {
		t.Fatalf("expected system env project map, got %s", got)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	env := map[string]string{"FULFILLMENT_FIREBASE_PROJECT_ID": "shop-dev"}

	_, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Security.HMAC.Secrets[carriers]"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %T", err)
	}
	expected := redactSecretName("Security.HMAC.Secrets[carriers]")
	if got := missing.RedactedNames(); len(got) != 1 || got[0] != expected {
		t.Fatalf("unexpected redacted names %v", got)
	}
}

func TestLoadMissingRequiredSecretsPanic(t *testing.T) {
	defer func() {
		missing, ok := recover().(*MissingSecretsError)
		if !ok {
			t.Fatal("expected MissingSecretsError panic")
		}
		if names := missing.Names(); len(names) != 1 || names[0] != "Security.HMAC.Secrets[payments]" {
			t.Fatalf("unexpected missing secrets %v", names)
		}
	}()

	_, _ = Load(context.Background(),
		WithEnvMap(map[string]string{"FULFILLMENT_FIREBASE_PROJECT_ID": "shop-dev"}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("Security.HMAC.Secrets[payments]"),
		WithPanicOnMissingSecrets(),
	)
}
