package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries the protocol tunables read from config.yaml. Zero fields are
// replaced by defaults, so a partial (or absent) file is fine.
type Config struct {
	WindowSize           int     `yaml:"windowSize"`           // max in-flight segments
	RTOms                int     `yaml:"rtoMs"`                // retransmission timeout in milliseconds
	MaxRetries           int     `yaml:"maxRetries"`           // retransmissions before giving up
	RecvBufferSize       int     `yaml:"recvBufferSize"`       // receive buffer capacity in bytes
	PayloadPoolSize      int     `yaml:"payloadPoolSize"`      // payload chunks in the ring pool
	ProcessTimeThreshold int     `yaml:"processTimeThreshold"` // pool chunk processing threshold in ms
	PoolDebug            bool    `yaml:"poolDebug"`            // ring pool debug setting
	LossRate             float64 `yaml:"lossRate"`             // simulated ingress drop probability
	CaptureFile          string  `yaml:"captureFile"`          // pcap output path; empty disables capture
}

var AppConfig *Config

func DefaultConfig() *Config {
	return &Config{
		WindowSize:           10,
		RTOms:                500,
		MaxRetries:           5,
		RecvBufferSize:       32 * 1024,
		PayloadPoolSize:      2000,
		ProcessTimeThreshold: 10,
	}
}

// ReadConfig loads path and fills unset fields with defaults. A missing file
// yields the defaults.
func ReadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	defaults := DefaultConfig()
	if config.WindowSize <= 0 {
		config.WindowSize = defaults.WindowSize
	}
	if config.RTOms <= 0 {
		config.RTOms = defaults.RTOms
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.RecvBufferSize <= 0 {
		config.RecvBufferSize = defaults.RecvBufferSize
	}
	if config.PayloadPoolSize <= 0 {
		config.PayloadPoolSize = defaults.PayloadPoolSize
	}
	if config.ProcessTimeThreshold <= 0 {
		config.ProcessTimeThreshold = defaults.ProcessTimeThreshold
	}
}
