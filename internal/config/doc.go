// Package config loads, normalizes, and validates casiel configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, optionally loads a .env file, and honours the
// environment variable names used by existing deployments such as
// RABBITMQ_WORK_QUEUE, SWORD_API_URL and GEMINI_API_KEY. The Config type
// centralizes every knob the worker and CLI need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
