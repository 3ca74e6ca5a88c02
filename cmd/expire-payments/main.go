// expire-payments runs one stale-payment sweep against the order store and prints the result as
// JSON. It is meant for Cloud Run jobs and manual operator runs; the API exposes the same sweep
// at /internal/payments:expire-stale for Cloud Scheduler.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/hanko-field/fulfillment/internal/di"
	"github.com/hanko-field/fulfillment/internal/platform/config"
	"github.com/hanko-field/fulfillment/internal/platform/observability"
	"github.com/hanko-field/fulfillment/internal/platform/secrets"
	"github.com/hanko-field/fulfillment/internal/services"
)

type sweepFlags struct {
	olderThan time.Duration
	limit     int
	dryRun    bool
	timeout   time.Duration
	envFile   string
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (sweepFlags, error) {
	var flags sweepFlags
	flagSet := pflag.NewFlagSet("expire-payments", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.DurationVar(&flags.olderThan, "older-than", 0, "expire awaiting payments created before now minus this duration (default: configured payment expiry)")
	flagSet.IntVar(&flags.limit, "limit", 0, "maximum orders examined in this run (default: configured batch size)")
	flagSet.BoolVar(&flags.dryRun, "dry-run", false, "report the orders that would expire without changing them")
	flagSet.DurationVar(&flags.timeout, "timeout", 5*time.Minute, "abort the sweep after this long")
	flagSet.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the process environment")

	if err := flagSet.Parse(args); err != nil {
		return sweepFlags{}, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return sweepFlags{}, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	if flags.olderThan < 0 {
		return sweepFlags{}, errors.New("--older-than must not be negative")
	}
	if flags.limit < 0 {
		return sweepFlags{}, errors.New("--limit must not be negative")
	}
	if flags.timeout <= 0 {
		return sweepFlags{}, errors.New("--timeout must be positive")
	}
	return flags, nil
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	baseLogger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("expire-payments")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, flags.timeout)
	defer cancel()

	env, err := config.EnvironmentValues(config.WithEnvFile(flags.envFile))
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	fetcherOpts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if project := strings.TrimSpace(env["FULFILLMENT_SECRET_DEFAULT_PROJECT_ID"]); project != "" {
		fetcherOpts = append(fetcherOpts, secrets.WithDefaultProject(project))
	}
	if path := strings.TrimSpace(env["FULFILLMENT_SECRET_FALLBACK_FILE"]); path != "" {
		fetcherOpts = append(fetcherOpts, secrets.WithFallbackFile(path))
	}
	fetcher, err := secrets.NewFetcher(ctx, fetcherOpts...)
	if err != nil {
		return fmt.Errorf("initialise secret fetcher: %w", err)
	}
	defer func() {
		_ = fetcher.Close()
	}()

	cfg, err := config.Load(ctx, config.WithEnvFile(flags.envFile), config.WithSecretResolver(fetcher))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	container, err := di.NewContainer(ctx, cfg, di.WithLogger(baseLogger))
	if err != nil {
		return fmt.Errorf("initialise dependencies: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}()

	result, err := container.Services.Orders.ExpireStalePayments(ctx, services.ExpireStalePaymentsCommand{
		OlderThan: flags.olderThan,
		Limit:     flags.limit,
		DryRun:    flags.dryRun,
		Actor:     services.Actor{ID: "job:expire-payments", Type: services.ActorTypeSystem},
	})
	if err != nil {
		return fmt.Errorf("expire stale payments: %w", err)
	}

	logger.Info("stale payment sweep finished",
		zap.Bool("dry_run", flags.dryRun),
		zap.Int("examined", result.Examined),
		zap.Int("expired", len(result.Expired)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
	)
	if err := writeResult(stdout, flags.dryRun, result); err != nil {
		return err
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d orders could not be expired", len(result.Failed))
	}
	return nil
}

func writeResult(w io.Writer, dryRun bool, result services.ExpireStalePaymentsResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		DryRun bool `json:"dryRun"`
		services.ExpireStalePaymentsResult
	}{DryRun: dryRun, ExpireStalePaymentsResult: result})
}
