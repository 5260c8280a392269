// Command policyguardd is the cloud policy compliance daemon: it loads a
// policy file, builds a cloud provider and state store, and runs one
// evaluation loop per policy until it receives SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cloudguardian/policyguard/internal/cache"
	"github.com/cloudguardian/policyguard/internal/daemon"
	"github.com/cloudguardian/policyguard/internal/graceful"
	"github.com/cloudguardian/policyguard/internal/logging"
	"github.com/cloudguardian/policyguard/internal/notify"
	"github.com/spf13/cobra"
)

var opts struct {
	subscriptionID  string
	cloud           string
	managementGroup string
	policyFile      string
	stateFile       string
	sqliteState     bool
	metricsAddr     string
	webhookURL      string
	logLevel        string
	cacheTTL        time.Duration
}

// rootCmd is the daemon's single entry point, grounded on the teacher's
// internal/cmd/root.go cobra convention.
var rootCmd = &cobra.Command{
	Use:     "policyguardd",
	Short:   "Cloud policy compliance daemon",
	Long:    "policyguardd continuously evaluates declared cloud policies and remediates violations, optionally after a grace period with prior warnings.",
	Version: "1.0.0",
	RunE:    run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&opts.subscriptionID, "subscription-id", envOr("POLICYGUARD_SUBSCRIPTION_ID", envOr("AWS_ACCOUNT_ID", "")), "subscription/account identifier (required)")
	flags.StringVar(&opts.cloud, "cloud", envOr("POLICYGUARD_CLOUD", "aws"), "cloud provider: aws or azure")
	flags.StringVar(&opts.managementGroup, "management-group", envOr("POLICYGUARD_MANAGEMENT_GROUP", ""), "optional Azure management group identifier")
	flags.StringVar(&opts.policyFile, "policy-file", envOr("POLICYGUARD_POLICY_FILE", "policies.json"), "path to the policy JSON document")
	flags.StringVar(&opts.stateFile, "state-file", envOr("POLICYGUARD_STATE_FILE", "state.json"), "path to the persisted remediation state file")
	flags.BoolVar(&opts.sqliteState, "sqlite-state", envOr("POLICYGUARD_SQLITE_STATE", "") == "true", "use the SQLite state store instead of the JSON file store")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", envOr("POLICYGUARD_METRICS_ADDR", ":9090"), "address for the /metrics and /healthz endpoints (empty disables)")
	flags.StringVar(&opts.webhookURL, "webhook-url", envOr("POLICYGUARD_WEBHOOK_URL", ""), "optional webhook URL to receive remediation events")
	flags.StringVar(&opts.logLevel, "log-level", envOr("POLICYGUARD_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flags.DurationVar(&opts.cacheTTL, "resource-cache-ttl", cache.DefaultTTL, "resource listing cache TTL")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(cmd *cobra.Command, args []string) error {
	if err := logging.Init(&logging.Config{Level: opts.logLevel, Format: "json", Output: "stdout"}); err != nil {
		return err
	}
	if opts.subscriptionID == "" {
		return fmt.Errorf("--subscription-id (or POLICYGUARD_SUBSCRIPTION_ID / AWS_ACCOUNT_ID) is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := daemon.Config{
		SubscriptionID:   opts.subscriptionID,
		Cloud:            daemon.CloudProvider(opts.cloud),
		ManagementGroup:  opts.managementGroup,
		PolicyFile:       opts.policyFile,
		StateFile:        opts.stateFile,
		UseSQLiteState:   opts.sqliteState,
		ResourceCacheTTL: opts.cacheTTL,
		MetricsAddr:      opts.metricsAddr,
		WebhookURL:       opts.webhookURL,
		SMTP:             smtpConfigOrNil(),
	}

	d, err := daemon.New(ctx, cfg)
	if err != nil {
		graceful.HandleError(err, "failed to construct daemon")
		return err
	}

	graceful.OnShutdown(func() error {
		cancel()
		return d.Stop()
	})

	d.Start(ctx)
	logging.WithComponent("main").Info().Msg("policyguardd running, waiting for shutdown signal")
	graceful.WaitForSignal()
	return nil
}

// smtpConfigOrNil returns an SMTP warning config only when an SMTP host was
// explicitly configured, so the daemon falls back to the log warner by
// default.
func smtpConfigOrNil() *notify.SMTPConfig {
	if os.Getenv("POLICYGUARD_SMTP_HOST") == "" {
		return nil
	}
	cfg := notify.SMTPConfigFromEnv()
	if to := os.Getenv("POLICYGUARD_SMTP_TO"); to != "" {
		cfg.To = []string{to}
	}
	return &cfg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
