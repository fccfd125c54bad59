// Package config provides configuration loading, merging, and validation
// facilities for tuning a [github.com/rkhiriev/vaultengine] instance.
//
// Configuration is assembled from multiple sources, consulted in the
// following order (the first source to set a given field wins; later
// sources only fill in fields still at their zero value):
//  1. Environment variables
//  2. Command-line flags
//  3. JSON config file
//
// The main entry point is [GetEngineConfig]. None of these settings are
// secrets themselves — they tune KDF cost, FEC redundancy, and backup
// retention — but callers embedding the engine in a long-running process
// will usually want them sourced from an environment rather than hardcoded.
package config
