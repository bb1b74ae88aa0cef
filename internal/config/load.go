// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authcore/internal/xdg"
)

// FlagConfig is the flag naming an explicit config file.
const FlagConfig = "config"

// BindFlags registers the settings that may be overridden on the command
// line. Only flags the user sets take effect.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(FlagConfig, "", "config file (default $XDG_CONFIG_HOME/authcore/config.yaml)")
	fs.String("log-format", d.LogFormat, "log format (json, text)")
	fs.String("store-backend", d.StoreBackend, "identity and session store (postgres, memory)")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("rate-limit-backend", d.RateLimitBackend, "rate limit window store (memory, redis)")
	fs.String("redis-url", "", "Redis connection URL")
	fs.String("metrics-addr", "", "metrics and health listen address")
}

// Load builds the effective configuration and validates it. fs may be nil.
// Without --config the default file is read only if it exists.
func Load(fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	path, explicit, err := configPath(fs)
	if err != nil {
		return Config{}, err
	}
	if err := loadFile(&cfg, path, explicit); err != nil {
		return Config{}, err
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").With("operation", "parse environment").Wrap(err)
	}

	if fs != nil {
		if err := loadFlags(&cfg, fs); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func configPath(fs *pflag.FlagSet) (path string, explicit bool, err error) {
	if fs != nil {
		if f := fs.Lookup(FlagConfig); f != nil && f.Value.String() != "" {
			return f.Value.String(), true, nil
		}
	}
	path, err = xdg.ConfigFile()
	if err != nil {
		// No home directory means no default file.
		return "", false, nil //nolint:nilerr // absence of a default path is not an error
	}
	return path, false, nil
}

func loadFile(cfg *Config, path string, explicit bool) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	if err := ValidateSchema(data); err != nil {
		return oops.With("path", path).Wrap(err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}
	return nil
}

func loadFlags(cfg *Config, fs *pflag.FlagSet) error {
	k := koanf.New(".")
	provider := posflag.ProviderWithFlag(fs, ".", nil, func(f *pflag.Flag) (string, any) {
		if f.Name == FlagConfig {
			return "", nil
		}
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "read flags").Wrap(err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "apply flags").Wrap(err)
	}
	return nil
}
