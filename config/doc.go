// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It covers logging, the compiled-module
// cache, the built-in language runner locations, match execution defaults,
// the remote robot service, and the watch server.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Cache dir: %s\n", cfg.Cache.Dir)
package config
