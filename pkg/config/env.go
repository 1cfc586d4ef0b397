package config

import "strings"

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// normalizeEnvironment lowercases the configured environment and falls back
// to development when none is set.
func normalizeEnvironment(env string) string {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		return EnvDevelopment
	}
	return env
}

// IsProductionLike reports whether env is staging or production.
func IsProductionLike(env string) bool {
	env = normalizeEnvironment(env)
	return env == EnvStaging || env == EnvProduction
}
