// Package config loads, normalizes, and validates voicelog configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and resolves the summarizer API key from the
// environment or an optional dotenv file. The Config value is built once at
// startup and handed to every component; nothing else reads configuration
// from the environment.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
