// Package config loads, normalizes, and validates boothrec configuration data.
//
// It supplies repository defaults (3s countdown, 15s recording, 500ms watchdog
// grace), expands user paths (including tilde shortcuts), reads TOML files,
// loads .env files, and honours environment fallbacks such as
// BOOTHREC_MONGO_URI and DISPLAY.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
