// Package config provides loading and environment overlay for the tradepost
// runtime configuration. It exposes a Default() baseline, file loading in
// JSON or YAML by extension, and a TRADEPOST_* environment overlay.
//
// Example:
//
//	cfg, err := config.Load("/etc/tradepost.yaml")
//	if err != nil { ... }
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
