// Package config defines the engine's configuration surface.
//
// Configuration is layered: YAML file, then defaults for anything the
// file leaves unset, then MERIDIAN_* environment variable overrides,
// then validation of the final result. Loading is explicit; there is no
// package-level singleton.
//
// Example:
//
//	cfg, err := config.LoadWithEnvOverrides("meridian.yaml")
//	if err != nil {
//		return err
//	}
package config
