/*
Package config assembles a node's root Config from environment variables,
following the teacher pack's envconfig-based pattern: a single struct tagged
with `envconfig`, parsed with a fixed prefix so every setting lives under one
namespace (WEXEC_NODE_ID, WEXEC_BIND_ADDR, ...).
*/
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cuemby/wexec/pkg/cluster"
	"github.com/cuemby/wexec/pkg/engine"
	"github.com/cuemby/wexec/pkg/log"
	"github.com/cuemby/wexec/pkg/workerruntime"
)

// Config is a node's full runtime configuration, parsed from environment
// variables prefixed with WEXEC_ (e.g. WEXEC_NODE_ID, WEXEC_TOTAL_SHARDS).
type Config struct {
	NodeId      string `envconfig:"NODE_ID" required:"true"`
	// ClusterId must be the same across every node in the cluster: it is
	// hashed into the AES key each node's security.CertAuthority uses to
	// encrypt the root CA's private key at rest, so every node derives the
	// same key independently instead of needing one distributed out of band.
	ClusterId   string `envconfig:"CLUSTER_ID" default:"wexec-cluster"`
	BindAddr    string `envconfig:"BIND_ADDR" default:":7433"`
	ApiAddr     string `envconfig:"API_ADDR" default:":7434"`
	UnixSocket  string `envconfig:"UNIX_SOCKET" default:""`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:"127.0.0.1:9090"`
	DataDir     string `envconfig:"DATA_DIR" default:"./data"`
	TotalShards uint32 `envconfig:"TOTAL_SHARDS" default:"8"`

	FSRoot        string `envconfig:"FS_ROOT" default:"./worker-fs"`
	CacheCapacity int    `envconfig:"CACHE_CAPACITY" default:"1024"`

	// ConnectAlsoResumes mirrors engine.Config's Open-Question field: by
	// default connect_worker never implicitly resumes a suspended worker.
	ConnectAlsoResumes bool `envconfig:"CONNECT_ALSO_RESUMES" default:"false"`

	RetryBackoffInitial    time.Duration `envconfig:"RETRY_BACKOFF_INITIAL" default:"200ms"`
	RetryBackoffMax        time.Duration `envconfig:"RETRY_BACKOFF_MAX" default:"30s"`
	RetryBackoffMultiplier float64       `envconfig:"RETRY_BACKOFF_MULTIPLIER" default:"2.0"`
	RetryMaxAttempts       int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`

	LogLevel log.Level `envconfig:"LOG_LEVEL" default:"info"`
	LogJSON  bool      `envconfig:"LOG_JSON" default:"true"`
}

// Load parses Config from environment variables under the WEXEC_ prefix.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("WEXEC", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	return &cfg, nil
}

// ClusterConfig builds the pkg/cluster.Config this node's Manager starts
// with.
func (c *Config) ClusterConfig() cluster.Config {
	return cluster.Config{
		NodeId:      c.NodeId,
		BindAddr:    c.BindAddr,
		DataDir:     c.DataDir,
		TotalShards: c.TotalShards,
	}
}

// EngineConfig builds the pkg/engine.Config this node's Engine starts with.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Runtime: workerruntime.Config{
			RetryBackoffInitial:    c.RetryBackoffInitial,
			RetryBackoffMax:        c.RetryBackoffMax,
			RetryBackoffMultiplier: c.RetryBackoffMultiplier,
			RetryMaxAttempts:       c.RetryMaxAttempts,
		},
		FSRoot:             c.FSRoot,
		CacheCapacity:      c.CacheCapacity,
		ConnectAlsoResumes: c.ConnectAlsoResumes,
	}
}

// LogConfig builds the pkg/log.Config this node initializes logging with.
func (c *Config) LogConfig() log.Config {
	return log.Config{
		Level:      c.LogLevel,
		JSONOutput: c.LogJSON,
	}
}
