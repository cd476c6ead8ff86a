// Package nodeconfig loads a node's runtime configuration from a
// config.yaml (or config.yml) file via viper, the same way
// cmd/bd/config.go's validateSyncConfig reads sync settings: a fresh
// viper.Viper per load, YAML as the config type, defaults registered
// before ReadInConfig so a missing or partial file still yields a
// usable Config. Environment variables prefixed INBETWEENIES_ override
// any file value, following the AutomaticEnv + SetEnvPrefix pattern.
package nodeconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/inbetweenies/graphsync/internal/syncengine"
)

// Config keys, in viper's dotted-path form.
const (
	KeyNodeID   = "node.id"
	KeyUserID   = "node.user-id"
	KeyDataDir  = "node.data-dir"
	KeyStoreDSN = "storage.dsn"

	KeyHTTPListen = "http.listen"
	KeyHTTPToken  = "http.token"

	KeyRemoteURL     = "remote.url"
	KeyRemoteToken   = "remote.token"
	KeyRemoteTimeout = "remote.timeout"

	KeySyncMaxRecords      = "sync.batch.max-records"
	KeySyncMaxBytes        = "sync.batch.max-bytes"
	KeySyncRetryInitial    = "sync.retry.initial-interval"
	KeySyncRetryMultiplier = "sync.retry.multiplier"
	KeySyncRetryMaxBackoff = "sync.retry.max-interval"
	KeySyncRetryMaxElapsed = "sync.retry.max-elapsed-time"
)

// Node identifies this process and where it stores its graph.
type Node struct {
	ID      string `yaml:"id"`
	UserID  string `yaml:"user-id"`
	DataDir string `yaml:"data-dir"`
}

// HTTP configures the transport server exposed by internal/httpapi.
type HTTP struct {
	Listen string `yaml:"listen"`
	Token  string `yaml:"token"`
}

// Remote configures the internal/httpclient transport used for
// client-initiated sync cycles.
type Remote struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is a fully-resolved node configuration: defaults, file, and
// environment overrides already merged.
type Config struct {
	Node    Node
	Storage string // backend DSN, e.g. "memory://" or "sqlite:///path/to/db"
	HTTP    HTTP
	Remote  Remote
	Batch   syncengine.BatchLimits
	Retry   syncengine.RetryConfig
}

func registerDefaults(v *viper.Viper) {
	v.SetDefault(KeyNodeID, "")
	v.SetDefault(KeyUserID, "")
	v.SetDefault(KeyDataDir, ".inbetweenies")
	v.SetDefault(KeyStoreDSN, "memory://")

	v.SetDefault(KeyHTTPListen, ":7890")
	v.SetDefault(KeyHTTPToken, "")

	v.SetDefault(KeyRemoteURL, "")
	v.SetDefault(KeyRemoteToken, "")
	v.SetDefault(KeyRemoteTimeout, "30s")

	limits := syncengine.DefaultBatchLimits()
	v.SetDefault(KeySyncMaxRecords, limits.MaxRecords)
	v.SetDefault(KeySyncMaxBytes, limits.MaxBytes)

	retry := syncengine.DefaultRetryConfig()
	v.SetDefault(KeySyncRetryInitial, retry.InitialInterval.String())
	v.SetDefault(KeySyncRetryMultiplier, retry.Multiplier)
	v.SetDefault(KeySyncRetryMaxBackoff, retry.MaxInterval.String())
	v.SetDefault(KeySyncRetryMaxElapsed, "0s")
}

// Load reads configPath (if it exists) on top of the registered
// defaults, then applies INBETWEENIES_-prefixed environment overrides,
// and returns the resolved Config. A missing file is not an error —
// the node simply runs on defaults plus environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	registerDefaults(v)

	v.SetEnvPrefix("INBETWEENIES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("nodeconfig: read %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{
		Node: Node{
			ID:      v.GetString(KeyNodeID),
			UserID:  v.GetString(KeyUserID),
			DataDir: v.GetString(KeyDataDir),
		},
		Storage: v.GetString(KeyStoreDSN),
		HTTP: HTTP{
			Listen: v.GetString(KeyHTTPListen),
			Token:  v.GetString(KeyHTTPToken),
		},
		Remote: Remote{
			URL:     v.GetString(KeyRemoteURL),
			Token:   v.GetString(KeyRemoteToken),
			Timeout: v.GetDuration(KeyRemoteTimeout),
		},
		Batch: syncengine.BatchLimits{
			MaxRecords: v.GetInt(KeySyncMaxRecords),
			MaxBytes:   v.GetInt64(KeySyncMaxBytes),
		},
		Retry: syncengine.RetryConfig{
			InitialInterval: v.GetDuration(KeySyncRetryInitial),
			Multiplier:      v.GetFloat64(KeySyncRetryMultiplier),
			Randomization:   syncengine.DefaultRetryConfig().Randomization,
			MaxInterval:     v.GetDuration(KeySyncRetryMaxBackoff),
			MaxElapsedTime:  v.GetDuration(KeySyncRetryMaxElapsed),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects configurations missing a node id or user id (both
// default to empty, so a file or environment override must supply them)
// or carrying non-positive batch limits, mirroring
// validateSyncConfig's approach of checking the parsed file against a
// small allowed-value set before the node starts using it.
func (c *Config) validate() error {
	if c.Node.ID == "" {
		return fmt.Errorf("nodeconfig: %s is required", KeyNodeID)
	}
	if c.Node.UserID == "" {
		return fmt.Errorf("nodeconfig: %s is required", KeyUserID)
	}
	if c.Batch.MaxRecords <= 0 {
		return fmt.Errorf("nodeconfig: %s must be positive", KeySyncMaxRecords)
	}
	if c.Batch.MaxBytes <= 0 {
		return fmt.Errorf("nodeconfig: %s must be positive", KeySyncMaxBytes)
	}
	return nil
}
