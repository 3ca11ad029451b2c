// Package config holds the process-wide tunables for the I/O engine:
// codec defaults, retry/backoff counts, and logging setup. None of it is
// Bluetooth connection management — transports arrive already connected.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/mvaldez/btaudio/internal/logging"
)

// Config is unmarshaled from a YAML file via viper, mapstructure-tagged
// the same way as the rest of this project's config surface.
type Config struct {
	PCM struct {
		OpenRetries  int `mapstructure:"open_retries"`
		OpenRetryMS  int `mapstructure:"open_retry_ms"`
	} `mapstructure:"pcm"`

	A2DP struct {
		// VolumePassthrough disables the in-core volume scaler (§4.3),
		// leaving gain entirely to the remote device or an ALSA softvol
		// plugin downstream of the PCM pipe.
		VolumePassthrough bool `mapstructure:"volume_passthrough"`
	} `mapstructure:"a2dp"`

	SBC struct {
		MinBitpool int `mapstructure:"min_bitpool"`
		MaxBitpool int `mapstructure:"max_bitpool"`
	} `mapstructure:"sbc"`

	AAC struct {
		BitrateBPS  int  `mapstructure:"bitrate_bps"`
		VBR         bool `mapstructure:"vbr"`
		Afterburner bool `mapstructure:"afterburner"`
	} `mapstructure:"aac"`

	SCO struct {
		MSBCPrebufferFrames int `mapstructure:"msbc_prebuffer_frames"`
	} `mapstructure:"sco"`

	Pacer struct {
		DriftToleranceMS int `mapstructure:"drift_tolerance_ms"`
	} `mapstructure:"pacer"`

	Logging logging.Config `mapstructure:"logging"`
}

// Default returns the configuration used when no file is supplied, with
// values matching the constants recovered from the original C sources.
func Default() Config {
	var cfg Config
	cfg.PCM.OpenRetries = 5
	cfg.PCM.OpenRetryMS = 10
	cfg.A2DP.VolumePassthrough = false
	cfg.SBC.MinBitpool = 2
	cfg.SBC.MaxBitpool = 250
	cfg.AAC.BitrateBPS = 256000
	cfg.AAC.VBR = false
	cfg.AAC.Afterburner = true
	cfg.SCO.MSBCPrebufferFrames = 1
	cfg.Pacer.DriftToleranceMS = 10
	cfg.Logging.Level = "info"
	cfg.Logging.Outputs = []string{"stdout"}
	return cfg
}

// Load reads configPath (or searches the usual locations when empty) and
// overlays it on Default().
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/btaudio")
	}
	v.SetEnvPrefix("BTAUDIO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		// No config file: defaults stand.
		return cfg, nil
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
