package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// StructuredJSONConfig is the JSON-specific representation of the engine
// configuration. It mirrors [EngineConfig] but uses JSON struct tags and the
// custom [Duration] type so that duration values can be expressed as
// human-readable strings (e.g. "30s") in the config file.
//
// After decoding, the values are mapped into an [EngineConfig] by [parseJSON].
type StructuredJSONConfig struct {
	// KDF holds key-derivation tuning loaded from the JSON file.
	KDF struct {
		Algorithm         string `json:"algorithm"`
		Iterations        uint32 `json:"iterations"`
		Argon2MemoryKiB   uint32 `json:"argon2_memory_kib"`
		Argon2Time        uint32 `json:"argon2_time"`
		Argon2Parallelism uint8  `json:"argon2_parallelism"`
	} `json:"kdf,omitempty"`

	// FEC holds Reed-Solomon redundancy tuning loaded from the JSON file.
	FEC struct {
		HeaderRedundancyPercent  uint8 `json:"header_redundancy_percent"`
		PayloadRedundancyEnabled bool  `json:"payload_redundancy_enabled"`
		PayloadRedundancyPercent uint8 `json:"payload_redundancy_percent"`
	} `json:"fec,omitempty"`

	// Backup holds snapshot rotation settings loaded from the JSON file.
	Backup struct {
		Dir        string `json:"dir"`
		MaxBackups int    `json:"max_backups"`
	} `json:"backup,omitempty"`

	// Policy holds the default security policy seed loaded from the JSON file.
	Policy struct {
		RequireToken           bool     `json:"require_token"`
		MinPasswordLength      int      `json:"min_password_length"`
		PasswordHistoryDepth   int      `json:"password_history_depth"`
		UsernameHashAlgorithm  string   `json:"username_hash_algorithm"`
		TokenEnrollmentTimeout Duration `json:"token_enrollment_timeout"`
	} `json:"policy,omitempty"`

	// Provider holds crypto-provider mode preferences loaded from the JSON file.
	Provider struct {
		RequireValidatedMode bool `json:"require_validated_mode"`
		PageLockEnabled      bool `json:"page_lock_enabled"`
	} `json:"provider,omitempty"`
}

// parseJSON opens the JSON file at jsonFilePath, decodes it into a
// [StructuredJSONConfig], and maps the result into an [EngineConfig].
//
// JSONFilePath is intentionally left empty in the returned config so that
// the path is not re-processed during subsequent merge steps.
//
// Returns a wrapped error if the file cannot be opened or its contents
// cannot be decoded as valid JSON.
func parseJSON(jsonFilePath string) (*EngineConfig, error) {
	jsonFile, err := os.Open(jsonFilePath)
	if err != nil {
		return nil, fmt.Errorf("error reading a json file: %w", err)
	}
	defer jsonFile.Close()

	var jsonCfg StructuredJSONConfig
	if err := json.NewDecoder(jsonFile).Decode(&jsonCfg); err != nil {
		return nil, fmt.Errorf("error decoding json configs: %w", err)
	}

	cfg := &EngineConfig{
		KDF: KDF{
			Algorithm:         jsonCfg.KDF.Algorithm,
			Iterations:        jsonCfg.KDF.Iterations,
			Argon2MemoryKiB:   jsonCfg.KDF.Argon2MemoryKiB,
			Argon2Time:        jsonCfg.KDF.Argon2Time,
			Argon2Parallelism: jsonCfg.KDF.Argon2Parallelism,
		},
		FEC: FEC{
			HeaderRedundancyPercent:  jsonCfg.FEC.HeaderRedundancyPercent,
			PayloadRedundancyEnabled: jsonCfg.FEC.PayloadRedundancyEnabled,
			PayloadRedundancyPercent: jsonCfg.FEC.PayloadRedundancyPercent,
		},
		Backup: Backup{
			Dir:        jsonCfg.Backup.Dir,
			MaxBackups: jsonCfg.Backup.MaxBackups,
		},
		Policy: Policy{
			RequireToken:           jsonCfg.Policy.RequireToken,
			MinPasswordLength:      jsonCfg.Policy.MinPasswordLength,
			PasswordHistoryDepth:   jsonCfg.Policy.PasswordHistoryDepth,
			UsernameHashAlgorithm:  jsonCfg.Policy.UsernameHashAlgorithm,
			TokenEnrollmentTimeout: time.Duration(jsonCfg.Policy.TokenEnrollmentTimeout),
		},
		Provider: Provider{
			RequireValidatedMode: jsonCfg.Provider.RequireValidatedMode,
			PageLockEnabled:      jsonCfg.Provider.PageLockEnabled,
		},
		JSONFilePath: "", // intentionally cleared to prevent re-processing
	}

	return cfg, nil
}

// Duration is a thin wrapper around [time.Duration] that adds JSON
// unmarshaling support for human-readable duration strings such as "1h",
// "30m", or "15s", in addition to raw nanosecond integers.
//
// Use Duration in JSON config structs wherever a time.Duration field is
// needed. Convert back to time.Duration with a simple cast:
//
//	d := Duration(5 * time.Minute)
//	std := time.Duration(d) // → 5m0s
type Duration time.Duration

// UnmarshalJSON implements [json.Unmarshaler] for Duration.
//
// Supported JSON value types:
//   - string: parsed with [time.ParseDuration] (e.g. "1h30m", "30s").
//   - number: treated as a raw nanosecond count (same as time.Duration).
//
// Returns an error if the value is a string that cannot be parsed as a
// duration, or if the JSON value is of an unsupported type.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return json.Unmarshal(b, (*time.Duration)(d))
	}
}

// MarshalJSON implements [json.Marshaler] for Duration.
// The value is serialized as a human-readable string using
// [time.Duration.String] (e.g. "1h0m0s", "30m0s").
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
