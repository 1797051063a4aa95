// Package config loads the broker process's own settings: bind host and
// port, the repository root used for diff dry-run apply, and the store and
// config file paths. Layering follows cobra/viper's flag > env > default
// precedence; no process-level config file is read (the --config path names
// the project review file loaded by internal/projectconfig).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config is the broker's resolved process-level configuration.
type Config struct {
	Host       string
	Port       int
	RepoRoot   string
	ConfigPath string
	StorePath  string
	AssetDir   string
	LogDir     string
}

const envPrefix = "GSDRB"

// Bind registers the broker's flags on cmd and layers viper over them. Call
// Load after cmd's flags have been parsed (typically from a cobra
// RunE/PersistentPreRunE).
func Bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("host", "127.0.0.1", "address to bind the broker's HTTP server to")
	flags.Int("port", 8321, "port to bind the broker's HTTP server to")
	flags.String("repo-root", ".", "repository root used for diff dry-run apply")
	flags.String("config", "", "path to the project review config file")
	flags.String("store", "", "path to the review store file (defaults under repo-root/.planning)")
	flags.String("assets", "", "directory of static dashboard assets to serve")
	flags.String("log-dir", "", "log namespace root the dashboard's ?tail= query is resolved against")

	viper.BindPFlags(flags)
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// Load resolves the final configuration after flags have been bound and
// parsed.
func Load() (*Config, error) {
	repoRoot, err := filepath.Abs(viper.GetString("repo-root"))
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}

	storePath := viper.GetString("store")
	if storePath == "" {
		storePath = filepath.Join(repoRoot, ".planning", "codex_review_broker.sqlite3")
	}

	configPath := viper.GetString("config")
	if configPath == "" {
		configPath = filepath.Join(repoRoot, ".planning", "review_config.yaml")
	}

	logDir := viper.GetString("log-dir")
	if logDir == "" {
		if userConfigDir, err := os.UserConfigDir(); err == nil {
			logDir = filepath.Join(userConfigDir, "gsd-review-broker", "logs")
		}
	}

	cfg := &Config{
		Host:       viper.GetString("host"),
		Port:       viper.GetInt("port"),
		RepoRoot:   repoRoot,
		ConfigPath: configPath,
		StorePath:  storePath,
		AssetDir:   viper.GetString("assets"),
		LogDir:     logDir,
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port %d out of range", cfg.Port)
	}
	if _, err := os.Stat(repoRoot); err != nil {
		return nil, fmt.Errorf("repo root %q: %w", repoRoot, err)
	}

	return cfg, nil
}

// Addr returns the host:port the broker should bind to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
