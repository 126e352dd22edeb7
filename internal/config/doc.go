// Package config loads, normalizes, and validates walkwatcher configuration.
//
// A configuration file describes one watch target: the roots to walk, the
// exclusion patterns, the state store location, the lock identity, and the
// sinks that receive metric lines. TOML is the primary format; files ending
// in .yaml or .yml are decoded as YAML with the same keys.
//
// Always obtain settings through Load so downstream code receives expanded
// paths, trimmed pattern lists, and clear validation errors.
package config
