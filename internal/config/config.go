package config

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

func LoadConfig() {
	viper.SetConfigName("config")        // name of config file (without extension)
	viper.SetConfigType("yaml")          // REQUIRED if the config file does not have the extension in the name
	viper.AddConfigPath("/etc/netfuzz/") // path to look for the config file in
	viper.AddConfigPath(".")             // optionally look for config in the working directory
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Warn().Msg("Config file not found")
		} else {
			log.Panic().Err(err).Msg("Fatal error reading config file")
		}
	}
	SetDefaultConfig()
}

func SetDefaultConfig() {
	// Target
	viper.SetDefault("target.host", "::1")
	viper.SetDefault("target.port", 5555)

	// Delivery
	viper.SetDefault("delivery.dial_timeout", 250)
	viper.SetDefault("delivery.linger", 1)

	// Readiness probing before the first case is generated
	viper.SetDefault("readiness.startup_delay", 15)
	viper.SetDefault("readiness.timeout", 5000)
	viper.SetDefault("readiness.backoff", 10)
	viper.SetDefault("readiness.max_backoff", 500)

	// Engine
	viper.SetDefault("engine.corpus_dir", "corpus")
	viper.SetDefault("engine.max_len", 60000)
	viper.SetDefault("engine.len_control", 20)
	viper.SetDefault("engine.detect_leaks", false)
	viper.SetDefault("engine.dict", "")
	viper.SetDefault("engine.artifact_dir", "artifacts")
	viper.SetDefault("engine.watch_corpus", true)
	viper.SetDefault("engine.stats_interval", 10)
	viper.SetDefault("engine.workers", 1)
}
