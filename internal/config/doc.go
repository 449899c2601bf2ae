// Package config handles client configuration loading and validation.
// Settings come from a YAML file, then ASR_* environment variables (optionally
// read from a .env file) override them.
package config
