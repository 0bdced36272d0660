// Package config loads, normalizes, and validates Canon configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob
// the CLI needs: where the SQLite store lives, the default materialization
// pattern, and logging behavior.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and canonical log formats.
package config
