package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/blindrelay/internal/flagx"
	"github.com/dmitrijs2005/blindrelay/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "10s" strings and integer nanoseconds are accepted.
// Pointer fields distinguish "absent" from zero values; absent keys leave the
// current Config value untouched.
type JsonConfig struct {
	ListenAddr            *string         `json:"listen_addr"`
	DatabaseDSN           *string         `json:"database_dsn"`
	AuthTimeout           *timex.Duration `json:"auth_timeout"`
	MessageTTL            *timex.Duration `json:"message_ttl"`
	ReaperInterval        *timex.Duration `json:"reaper_interval"`
	JitterMin             *timex.Duration `json:"jitter_min"`
	JitterMax             *timex.Duration `json:"jitter_max"`
	HistoryLimit          *int            `json:"history_limit"`
	AbuseThreshold        *int            `json:"abuse_threshold"`
	ShortCodeAttempts     *int            `json:"short_code_attempts"`
	SignedRequestWindow   *timex.Duration `json:"signed_request_window"`
	LegacyHistoryFallback *bool           `json:"legacy_history_fallback"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags; if neither
// is set, nothing is loaded. If the file cannot be read or contains invalid
// JSON, the function panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	c.apply(config)
}

func (c *JsonConfig) apply(config *Config) {
	if c.ListenAddr != nil {
		config.ListenAddr = *c.ListenAddr
	}
	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.AuthTimeout != nil {
		config.AuthTimeout = c.AuthTimeout.Duration
	}
	if c.MessageTTL != nil {
		config.MessageTTL = c.MessageTTL.Duration
	}
	if c.ReaperInterval != nil {
		config.ReaperInterval = c.ReaperInterval.Duration
	}
	if c.JitterMin != nil {
		config.JitterMin = c.JitterMin.Duration
	}
	if c.JitterMax != nil {
		config.JitterMax = c.JitterMax.Duration
	}
	if c.HistoryLimit != nil {
		config.HistoryLimit = *c.HistoryLimit
	}
	if c.AbuseThreshold != nil {
		config.AbuseThreshold = *c.AbuseThreshold
	}
	if c.ShortCodeAttempts != nil {
		config.ShortCodeAttempts = *c.ShortCodeAttempts
	}
	if c.SignedRequestWindow != nil {
		config.SignedRequestWindow = c.SignedRequestWindow.Duration
	}
	if c.LegacyHistoryFallback != nil {
		config.LegacyHistoryFallback = *c.LegacyHistoryFallback
	}
}
