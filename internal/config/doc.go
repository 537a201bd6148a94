// Package config provides loading and environment overlay for claimq
// configuration, plus an fsnotify-based watcher for hot reload.
//
// Example:
//
//	cfg, err := config.Load("/etc/claimq.yaml")
//	if err != nil { ... }
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil { ... }
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
