// Package config loads, normalizes, and validates Tsumugi's TOML
// configuration. Load applies defaults first, then file values, then
// environment fallbacks for API keys, so a bare install works with nothing
// but a provider key exported in the environment.
package config
