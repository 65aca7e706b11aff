// Package config loads, normalizes, and validates callscribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY and CALLSCRIBE_API_SECRET. An optional .env file next to the
// config file is loaded first so credentials can live outside the TOML.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
