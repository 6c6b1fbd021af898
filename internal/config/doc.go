// Package config loads the DeepResearch configuration file (YAML, or JSON,
// which YAML accepts), applies defaults and environment overrides.
package config
