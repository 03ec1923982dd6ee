// Package config loads settings for the kasa-monitor operator tools.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional file and the environment.
// Environment variables use the KASA_MONITOR prefix, e.g.
// KASA_MONITOR_DATABASE_PATH=/var/lib/kasa/kasa_monitor.db.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("database.path", "kasa_monitor.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	// Remediator defaults
	v.SetDefault("remediate.target_dir", ".")
	v.SetDefault("remediate.env_file", ".env")
	v.SetDefault("remediate.server_file", "server.py")
	v.SetDefault("remediate.frontend_dir", "frontend")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("kasa-monitor-ops")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/kasa-monitor")
	}

	v.SetEnvPrefix("KASA_MONITOR")
	// Nested keys use dots; shells can't set those, so map them to underscores.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
