// Package config loads and validates the operator's process configuration.
//
// Values come from viper, which merges command-line flags, PANGOLIN_* environment
// variables and defaults. An optional dotenv file is loaded into the process
// environment first; it never overrides variables that are already set.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"

	"github.com/sparkfly/pangolin-operator/internal/logging"
	"github.com/sparkfly/pangolin-operator/internal/pangolin"
	"github.com/sparkfly/pangolin-operator/internal/retry"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PANGOLIN"

// Configuration keys. Each key is also a flag name and maps to the
// environment variable PANGOLIN_<KEY> with dashes replaced by underscores.
const (
	KeyAPIURL          = "api-url"
	KeyAPIToken        = "api-token"
	KeyOrg             = "org"
	KeySiteID          = "site-id"
	KeyDomainID        = "domain-id"
	KeyDryRun          = "dry-run"
	KeyRetryCount      = "retry-count"
	KeyRetryBaseDelay  = "retry-base-delay"
	KeyRequestTimeout  = "request-timeout"
	KeyRequeueDelay    = "requeue-delay"
	KeyClusterDomain   = "cluster-domain"
	KeyRateLimit       = "rate-limit"
	KeyRateBurst       = "rate-burst"
	KeyBreakerFailures = "breaker-failures"
	KeyBreakerTimeout  = "breaker-timeout"
	KeyMetricsAddr     = "metrics-addr"
	KeyHealthAddr      = "health-addr"
	KeyLeaderElect     = "leader-elect"
	KeyLeaderElectNS   = "leader-election-namespace"
	KeyLeaderElectName = "leader-election-name"
	KeyWatchNamespace  = "watch-namespace"
	KeyLogLevel        = "log-level"
	KeyLogFormat       = "log-format"
	KeyEnvFile         = "env-file"
)

// Defaults for optional settings.
const (
	DefaultRequeueDelay    = 30 * time.Second
	DefaultClusterDomain   = "cluster.local"
	DefaultMetricsAddr     = ":8080"
	DefaultHealthAddr      = ":8081"
	DefaultLeaderElectName = "pangolin-operator-leader"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = logging.FormatJSON
	DefaultEnvFile         = ".env"
)

// ErrMissingConfig marks errors caused by absent required settings.
var ErrMissingConfig = errors.New("missing required configuration")

//nolint:gochecknoglobals // fixed list of required keys
var requiredKeys = []string{KeyAPIURL, KeyAPIToken, KeyOrg, KeySiteID, KeyDomainID}

// Config holds the validated process configuration.
type Config struct {
	// Pangolin API access
	APIURL   string
	APIToken string
	OrgID    string
	SiteID   int
	DomainID string
	DryRun   bool

	// Remote call behaviour
	RetryCount      int
	RetryBaseDelay  time.Duration
	RequestTimeout  time.Duration
	RequeueDelay    time.Duration
	RateLimit       float64
	RateBurst       int
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	ClusterDomain string

	// Manager settings
	MetricsAddr     string
	HealthAddr      string
	LeaderElect     bool
	LeaderElectNS   string
	LeaderElectName string
	WatchNamespace  string

	LogLevel  string
	LogFormat string
}

// EnvName returns the environment variable name for a configuration key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// SetDefaults registers defaults for every optional key and binds the environment.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDryRun, false)
	v.SetDefault(KeyRetryCount, retry.DefaultAttempts)
	v.SetDefault(KeyRetryBaseDelay, retry.DefaultBaseDelay)
	v.SetDefault(KeyRequestTimeout, pangolin.DefaultTimeout)
	v.SetDefault(KeyRequeueDelay, DefaultRequeueDelay)
	v.SetDefault(KeyClusterDomain, DefaultClusterDomain)
	v.SetDefault(KeyRateLimit, pangolin.DefaultRateLimit)
	v.SetDefault(KeyRateBurst, pangolin.DefaultRateBurst)
	v.SetDefault(KeyBreakerFailures, pangolin.DefaultBreakerFailures)
	v.SetDefault(KeyBreakerTimeout, pangolin.DefaultBreakerTimeout)
	v.SetDefault(KeyMetricsAddr, DefaultMetricsAddr)
	v.SetDefault(KeyHealthAddr, DefaultHealthAddr)
	v.SetDefault(KeyLeaderElect, false)
	v.SetDefault(KeyLeaderElectName, DefaultLeaderElectName)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
	v.SetDefault(KeyLogFormat, DefaultLogFormat)
	v.SetDefault(KeyEnvFile, DefaultEnvFile)
}

// LoadEnvFile copies variables from a dotenv file into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}

	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if err != nil {
		return errors.Wrapf(err, "failed to stat env file %s", path)
	}

	file := viper.New()
	file.SetConfigFile(path)
	file.SetConfigType("env")

	err = file.ReadInConfig()
	if err != nil {
		return errors.Wrapf(err, "failed to read env file %s", path)
	}

	// viper lowercases keys; environment names are conventionally upper case.
	for _, key := range file.AllKeys() {
		name := strings.ToUpper(key)

		if _, set := os.LookupEnv(name); set {
			continue
		}

		err = os.Setenv(name, file.GetString(key))
		if err != nil {
			return errors.Wrapf(err, "failed to set %s", name)
		}
	}

	return nil
}

// Load validates the settings in v and returns the resulting Config.
// All missing required variables are reported together.
func Load(v *viper.Viper) (*Config, error) {
	var missing []string

	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, EnvName(key))
		}
	}

	if len(missing) > 0 {
		return nil, errors.Mark(
			errors.Newf("missing required environment variables: %s", strings.Join(missing, ", ")),
			ErrMissingConfig,
		)
	}

	siteID, err := strconv.Atoi(strings.TrimSpace(v.GetString(KeySiteID)))
	if err != nil {
		return nil, errors.Wrapf(err, "%s must be an integer", EnvName(KeySiteID))
	}

	cfg := &Config{
		APIURL:          strings.TrimSpace(v.GetString(KeyAPIURL)),
		APIToken:        v.GetString(KeyAPIToken),
		OrgID:           v.GetString(KeyOrg),
		SiteID:          siteID,
		DomainID:        v.GetString(KeyDomainID),
		DryRun:          v.GetBool(KeyDryRun),
		RetryCount:      v.GetInt(KeyRetryCount),
		RetryBaseDelay:  v.GetDuration(KeyRetryBaseDelay),
		RequestTimeout:  v.GetDuration(KeyRequestTimeout),
		RequeueDelay:    v.GetDuration(KeyRequeueDelay),
		RateLimit:       v.GetFloat64(KeyRateLimit),
		RateBurst:       v.GetInt(KeyRateBurst),
		BreakerFailures: v.GetUint32(KeyBreakerFailures),
		BreakerTimeout:  v.GetDuration(KeyBreakerTimeout),
		ClusterDomain:   v.GetString(KeyClusterDomain),
		MetricsAddr:     v.GetString(KeyMetricsAddr),
		HealthAddr:      v.GetString(KeyHealthAddr),
		LeaderElect:     v.GetBool(KeyLeaderElect),
		LeaderElectNS:   v.GetString(KeyLeaderElectNS),
		LeaderElectName: v.GetString(KeyLeaderElectName),
		WatchNamespace:  v.GetString(KeyWatchNamespace),
		LogLevel:        v.GetString(KeyLogLevel),
		LogFormat:       v.GetString(KeyLogFormat),
	}

	err = cfg.validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RetryCount < 1 {
		return errors.Newf("%s must be at least 1, got %d", EnvName(KeyRetryCount), c.RetryCount)
	}

	if c.RetryBaseDelay < 0 {
		return errors.Newf("%s must not be negative", EnvName(KeyRetryBaseDelay))
	}

	if c.RequestTimeout <= 0 {
		return errors.Newf("%s must be positive", EnvName(KeyRequestTimeout))
	}

	if c.RequeueDelay <= 0 {
		return errors.Newf("%s must be positive", EnvName(KeyRequeueDelay))
	}

	if c.ClusterDomain == "" {
		return errors.Newf("%s must not be empty", EnvName(KeyClusterDomain))
	}

	switch c.LogFormat {
	case logging.FormatJSON, logging.FormatText, logging.FormatConsole:
	default:
		return errors.Newf("%s must be one of json, text, console, got %q", EnvName(KeyLogFormat), c.LogFormat)
	}

	return nil
}

// ClientOptions returns the Pangolin client options for this configuration.
func (c *Config) ClientOptions() pangolin.Options {
	return pangolin.Options{
		BaseURL:         c.APIURL,
		Token:           c.APIToken,
		OrgID:           c.OrgID,
		SiteID:          c.SiteID,
		DryRun:          c.DryRun,
		Timeout:         c.RequestTimeout,
		RateLimit:       c.RateLimit,
		RateBurst:       c.RateBurst,
		BreakerFailures: c.BreakerFailures,
		BreakerTimeout:  c.BreakerTimeout,
	}
}
