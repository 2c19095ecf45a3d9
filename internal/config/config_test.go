package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(values map[string]any) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	for key, value := range values {
		v.Set(key, value)
	}

	return v
}

func requiredValues() map[string]any {
	return map[string]any{
		KeyAPIURL:   "https://pangolin.example.com/v1",
		KeyAPIToken: "token",
		KeyOrg:      "home",
		KeySiteID:   "3",
		KeyDomainID: "example",
	}
}

func TestEnvName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "PANGOLIN_API_URL", EnvName(KeyAPIURL))
	assert.Equal(t, "PANGOLIN_SITE_ID", EnvName(KeySiteID))
	assert.Equal(t, "PANGOLIN_LEADER_ELECTION_NAMESPACE", EnvName(KeyLeaderElectNS))
}

func TestLoad_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(newViper(requiredValues()))
	require.NoError(t, err)

	assert.Equal(t, "https://pangolin.example.com/v1", cfg.APIURL)
	assert.Equal(t, "token", cfg.APIToken)
	assert.Equal(t, "home", cfg.OrgID)
	assert.Equal(t, 3, cfg.SiteID)
	assert.Equal(t, "example", cfg.DomainID)
	assert.False(t, cfg.DryRun)
	assert.Equal(t, 3, cfg.RetryCount)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 10*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequeueDelay)
	assert.Equal(t, "cluster.local", cfg.ClusterDomain)
	assert.InDelta(t, 10.0, cfg.RateLimit, 0)
	assert.Equal(t, 5, cfg.RateBurst)
	assert.Equal(t, uint32(5), cfg.BreakerFailures)
	assert.Equal(t, 30*time.Second, cfg.BreakerTimeout)
	assert.Equal(t, ":8080", cfg.MetricsAddr)
	assert.Equal(t, ":8081", cfg.HealthAddr)
	assert.False(t, cfg.LeaderElect)
	assert.Equal(t, DefaultLeaderElectName, cfg.LeaderElectName)
	assert.Empty(t, cfg.WatchNamespace)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		drop    []string
		missing []string
	}{
		{
			name:    "token missing",
			drop:    []string{KeyAPIToken},
			missing: []string{"PANGOLIN_API_TOKEN"},
		},
		{
			name:    "several missing",
			drop:    []string{KeyAPIURL, KeySiteID, KeyDomainID},
			missing: []string{"PANGOLIN_API_URL", "PANGOLIN_SITE_ID", "PANGOLIN_DOMAIN_ID"},
		},
		{
			name: "all missing",
			drop: []string{KeyAPIURL, KeyAPIToken, KeyOrg, KeySiteID, KeyDomainID},
			missing: []string{
				"PANGOLIN_API_URL", "PANGOLIN_API_TOKEN", "PANGOLIN_ORG",
				"PANGOLIN_SITE_ID", "PANGOLIN_DOMAIN_ID",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			values := requiredValues()
			for _, key := range tt.drop {
				delete(values, key)
			}

			cfg, err := Load(newViper(values))

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.True(t, errors.Is(err, ErrMissingConfig))

			for _, name := range tt.missing {
				assert.Contains(t, err.Error(), name)
			}
		})
	}
}

func TestLoad_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		override map[string]any
		contains string
	}{
		{name: "site id not integer", override: map[string]any{KeySiteID: "three"}, contains: "PANGOLIN_SITE_ID must be an integer"},
		{name: "zero retries", override: map[string]any{KeyRetryCount: 0}, contains: "PANGOLIN_RETRY_COUNT"},
		{name: "zero requeue delay", override: map[string]any{KeyRequeueDelay: "0s"}, contains: "PANGOLIN_REQUEUE_DELAY"},
		{name: "zero request timeout", override: map[string]any{KeyRequestTimeout: "0s"}, contains: "PANGOLIN_REQUEST_TIMEOUT"},
		{name: "unknown log format", override: map[string]any{KeyLogFormat: "xml"}, contains: "PANGOLIN_LOG_FORMAT"},
		{name: "empty cluster domain", override: map[string]any{KeyClusterDomain: ""}, contains: "PANGOLIN_CLUSTER_DOMAIN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			values := requiredValues()
			for key, value := range tt.override {
				values[key] = value
			}

			_, err := Load(newViper(values))

			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrMissingConfig))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PANGOLIN_API_URL", "https://env.example.com/v1")
	t.Setenv("PANGOLIN_API_TOKEN", "env-token")
	t.Setenv("PANGOLIN_ORG", "env-org")
	t.Setenv("PANGOLIN_SITE_ID", "12")
	t.Setenv("PANGOLIN_DOMAIN_ID", "env-domain")
	t.Setenv("PANGOLIN_DRY_RUN", "true")
	t.Setenv("PANGOLIN_RETRY_BASE_DELAY", "250ms")

	v := viper.New()
	SetDefaults(v)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com/v1", cfg.APIURL)
	assert.Equal(t, "env-token", cfg.APIToken)
	assert.Equal(t, "env-org", cfg.OrgID)
	assert.Equal(t, 12, cfg.SiteID)
	assert.Equal(t, "env-domain", cfg.DomainID)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBaseDelay)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "PANGOLIN_TEST_FROM_FILE=file-value\nPANGOLIN_TEST_ALREADY_SET=file-value\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("PANGOLIN_TEST_ALREADY_SET", "env-value")
	t.Cleanup(func() { _ = os.Unsetenv("PANGOLIN_TEST_FROM_FILE") })

	require.NoError(t, LoadEnvFile(path))

	assert.Equal(t, "file-value", os.Getenv("PANGOLIN_TEST_FROM_FILE"))
	assert.Equal(t, "env-value", os.Getenv("PANGOLIN_TEST_ALREADY_SET"))
}

func TestLoadEnvFile_Missing(t *testing.T) {
	t.Parallel()

	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	require.NoError(t, LoadEnvFile(""))
}

func TestClientOptions(t *testing.T) {
	t.Parallel()

	cfg, err := Load(newViper(requiredValues()))
	require.NoError(t, err)

	opts := cfg.ClientOptions()

	assert.Equal(t, cfg.APIURL, opts.BaseURL)
	assert.Equal(t, cfg.APIToken, opts.Token)
	assert.Equal(t, cfg.OrgID, opts.OrgID)
	assert.Equal(t, cfg.SiteID, opts.SiteID)
	assert.Equal(t, cfg.RequestTimeout, opts.Timeout)
	assert.Equal(t, cfg.BreakerFailures, opts.BreakerFailures)
	assert.Nil(t, opts.Metrics)
}
