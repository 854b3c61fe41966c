// Package config handles YAML configuration loading for ssebridged, with
// environment variable substitution and hot reload.
//
// Configuration files support ${VAR} syntax for environment variable
// interpolation. Watch re-loads the file on change so the origin allow-list
// can be updated without a restart.
package config
