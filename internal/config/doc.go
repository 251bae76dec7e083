// Package config holds all runtime configuration for webmirror.
//
// Configuration flows from three sources, later ones winning:
// built-in defaults, the .webmirror YAML file (global defaults plus
// per-site overrides), and CLI flags. The resolved Config is passed
// through the application by dependency injection rather than global
// state.
package config
