// Package config loads, defaults and validates the service configuration.
//
// Configuration is YAML with ${VAR} and ${VAR:-default} environment
// substitution. Validation is strict about the signing secret: a missing,
// short or placeholder secret fails Validate, which callers treat as fatal
// at startup.
//
// The package also provides a debounced fsnotify file watcher used to
// hot-reload the policy seed file.
package config
