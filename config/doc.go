// Package config loads and validates the engine configuration.
//
// Configuration resolves in three layers: built-in defaults, an optional
// YAML file, and TASKFLOW_* environment variables, with later layers
// winning. The Loader is a builder:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("taskflow.yaml").
//	    WithValidator(func(c *config.Config) error { return c.Validate() }).
//	    Load()
package config
