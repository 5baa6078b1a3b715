package config

import (
	"fmt"
	"strings"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStorage = map[string]bool{
	StorageMemory: true,
	StorageSQLite: true,
	StorageMongo:  true,
}

var validLLMProviders = map[string]bool{
	"gemini": true,
	"openai": true,
	"mock":   true,
	"none":   true,
}

// ValidationResult separates errors that must stop startup from values that
// were corrected in place.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether startup must be aborted
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// Validate checks the config. Out-of-range numbers are clamped and reported
// as warnings. The STT provider is not checked here: an unknown provider is
// reported when a recording starts.
func (c *Config) Validate() ValidationResult {
	var r ValidationResult

	if c.ChunkMs <= 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("chunk_ms %d must be positive, using 320", c.ChunkMs))
		c.ChunkMs = 320
	} else if c.ChunkMs > 5000 {
		r.Warnings = append(r.Warnings, fmt.Errorf("chunk_ms %d exceeds maximum 5000, clamping", c.ChunkMs))
		c.ChunkMs = 5000
	}

	if c.EndpointingMs < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("endpointing %d is negative, using 0", c.EndpointingMs))
		c.EndpointingMs = 0
	}

	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	if !validStorage[c.Storage] {
		r.Fatals = append(r.Fatals, fmt.Errorf("unknown storage %q", c.Storage))
	}

	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	if !validLLMProviders[c.LLMProvider] {
		r.Warnings = append(r.Warnings, fmt.Errorf("unknown llm_provider %q, summaries disabled", c.LLMProvider))
		c.LLMProvider = "none"
	}

	if _, err := ParseRetention(c.AutoDelete); err != nil {
		r.Warnings = append(r.Warnings, fmt.Errorf("%w, using %s", err, DefaultAutoDelete))
		c.AutoDelete = DefaultAutoDelete
	}

	level := strings.ToLower(c.LogLevel)
	if level == "warning" {
		level = "warn"
	}
	if !validLogLevels[level] {
		r.Warnings = append(r.Warnings, fmt.Errorf("unknown log_level %q, using info", c.LogLevel))
		level = "info"
	}
	c.LogLevel = level

	if c.LogFormat != "json" && c.LogFormat != "console" {
		r.Warnings = append(r.Warnings, fmt.Errorf("unknown log_format %q, using json", c.LogFormat))
		c.LogFormat = "json"
	}

	return r
}
