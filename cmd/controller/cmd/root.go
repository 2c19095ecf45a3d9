package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/sparkfly/pangolin-operator/internal/config"
	"github.com/sparkfly/pangolin-operator/internal/controller"
	"github.com/sparkfly/pangolin-operator/internal/logging"
	"github.com/sparkfly/pangolin-operator/internal/pangolin"
	"github.com/sparkfly/pangolin-operator/internal/retry"
)

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "pangolin-operator",
	Short: "Kubernetes operator exposing Services through Pangolin",
	Long: `A Kubernetes operator that watches PangolinIngress resources and registers
matching resources and targets in a Pangolin reverse proxy.

Every flag can also be set through a PANGOLIN_* environment variable, e.g.
--api-url is PANGOLIN_API_URL. Variables may be kept in a dotenv file.`,
	RunE:          runController,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String(config.KeyLogLevel, config.DefaultLogLevel, "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String(config.KeyLogFormat, config.DefaultLogFormat, "Log format (json, text, console)")
	rootCmd.PersistentFlags().String(config.KeyEnvFile, config.DefaultEnvFile, "Dotenv file loaded into the environment if present")

	rootCmd.Flags().String(config.KeyAPIURL, "", "Pangolin API base URL (or PANGOLIN_API_URL)")
	rootCmd.Flags().String(config.KeyAPIToken, "", "Pangolin API token (or PANGOLIN_API_TOKEN)")
	rootCmd.Flags().String(config.KeyOrg, "", "Pangolin organization ID (or PANGOLIN_ORG)")
	rootCmd.Flags().String(config.KeySiteID, "", "Pangolin site ID (or PANGOLIN_SITE_ID)")
	rootCmd.Flags().String(config.KeyDomainID, "", "Pangolin domain ID (or PANGOLIN_DOMAIN_ID)")
	rootCmd.Flags().Bool(config.KeyDryRun, false, "Simulate Pangolin calls without network access")

	rootCmd.Flags().Int(config.KeyRetryCount, retry.DefaultAttempts, "Attempts per Pangolin call")
	rootCmd.Flags().Duration(config.KeyRetryBaseDelay, retry.DefaultBaseDelay, "Base delay of the exponential backoff")
	rootCmd.Flags().Duration(config.KeyRequestTimeout, pangolin.DefaultTimeout, "Timeout of a single Pangolin request")
	rootCmd.Flags().Duration(config.KeyRequeueDelay, config.DefaultRequeueDelay, "Delay before retrying a failed reconciliation")
	rootCmd.Flags().Float64(config.KeyRateLimit, pangolin.DefaultRateLimit, "Pangolin requests per second (negative disables limiting)")
	rootCmd.Flags().Int(config.KeyRateBurst, pangolin.DefaultRateBurst, "Burst of the Pangolin request limiter")
	rootCmd.Flags().Uint32(config.KeyBreakerFailures, pangolin.DefaultBreakerFailures, "Consecutive failures that open the circuit breaker")
	rootCmd.Flags().Duration(config.KeyBreakerTimeout, pangolin.DefaultBreakerTimeout, "How long the open circuit breaker rejects calls")

	rootCmd.Flags().String(config.KeyClusterDomain, config.DefaultClusterDomain, "Kubernetes cluster domain")
	rootCmd.Flags().String(config.KeyMetricsAddr, config.DefaultMetricsAddr, "Address for metrics endpoint")
	rootCmd.Flags().String(config.KeyHealthAddr, config.DefaultHealthAddr, "Address for health probe endpoint")
	rootCmd.Flags().String(config.KeyWatchNamespace, "", "Only watch this namespace (default all)")

	// Leader election flags
	rootCmd.Flags().Bool(config.KeyLeaderElect, false, "Enable leader election for high availability")
	rootCmd.Flags().String(config.KeyLeaderElectNS, "", "Namespace for leader election lease (defaults to controller namespace)")
	rootCmd.Flags().String(config.KeyLeaderElectName, config.DefaultLeaderElectName, "Name of the leader election lease")

	_ = viper.BindPFlags(rootCmd.Flags())
	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	config.SetDefaults(viper.GetViper())
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

//nolint:noinlineerr // inline error handling is fine here
func runController(_ *cobra.Command, _ []string) error {
	if err := config.LoadEnvFile(viper.GetString(config.KeyEnvFile)); err != nil {
		return errors.Wrap(err, "failed to load env file")
	}

	logger := logging.New(viper.GetString(config.KeyLogLevel), viper.GetString(config.KeyLogFormat), os.Stdout)
	slog.SetDefault(logger)

	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	logger.Info("starting pangolin-operator",
		"version", version,
		"gitsha", gitsha,
	)

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Error("invalid configuration", "error", err)

		return errors.Wrap(err, "failed to load configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx = logging.WithLogger(ctx, logger)

	if err := controller.Run(ctx, cfg); err != nil {
		return errors.Wrap(err, "failed to run controller")
	}

	return nil
}
