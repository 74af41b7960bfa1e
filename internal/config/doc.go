// Package config loads and validates Loom configuration from TOML.
//
// Configuration resolution order: an explicit --config path, then
// ~/.config/loom/config.toml, then ./loom.toml, then built-in defaults.
// All path fields are tilde-expanded and made absolute during Load.
package config
