// Package config provides centralized configuration management for the
// StarkFinder daemon, loading a single JSON file and applying defaults for
// every subsystem. Secrets never live in the file itself; the configuration
// only names the environment variables they are read from.
package config
