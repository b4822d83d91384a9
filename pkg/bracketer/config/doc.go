/*
Package config provides the bracketer's configuration layers: a typed
accessor over map[string]any, YAML/JSON file loading, and environment
parsing for the command.

# Options Files

Bracketer options may be kept in a YAML or JSON file and read with
FromFile. Accessors return the default when a key is missing or holds the
wrong type:

	cfg, err := config.FromFile("options.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	ttl := cfg.Duration("state_ttl", 24*time.Hour)
	policy := cfg.String("render_policy", "permissive")

Options may also sit under a top-level "bracketer" key of a larger pipeline
file; FromFile then returns only that section.

Duration accepts a time.ParseDuration string ("24h", "2s"), a number of
seconds, or a time.Duration.

# Environment

LoadEnv reads the BRACKETER_* variables into Env with caarlos0/env.
Env.Options converts the option variables that are set into a Config, so
environment values can be merged over a file:

	opts := fileCfg.Merge(envCfg.Options())

# Thread Safety

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
