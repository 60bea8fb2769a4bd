// Package config provides YAML configuration loading and validation
// for the voice consultation service.
package config
