package main

import (
	"reflect"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/sheetpipe/pkg/config"
	"github.com/ajitpratap0/sheetpipe/pkg/errors"
)

// envPrefix prefixes the environment variable of every run setting, for
// example SHEETPIPE_BATCH_SIZE.
const envPrefix = "SHEETPIPE"

// loadRunConfig builds the run configuration from, in increasing priority,
// the defaults, the YAML file at path (if any), SHEETPIPE_* environment
// variables and the flags set on the command line.
func loadRunConfig(path string, flags *pflag.FlagSet) (*config.RunConfig, error) {
	cfg := config.NewRunConfig()
	if path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, err
		}
	}

	keys := settingKeys()
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	for key := range keys {
		_ = v.BindEnv(key)
	}

	// Only flags the user changed are bound, so flag defaults never mask
	// values from the file or the environment.
	var bindErr error
	flags.Visit(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !keys[key] || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(key, f)
	})
	if bindErr != nil {
		return nil, errors.Wrap(bindErr, errors.ErrorTypeConfig, "failed to bind flags")
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to apply settings")
	}
	return cfg, nil
}

// settingKeys returns the mapstructure keys of RunConfig.
func settingKeys() map[string]bool {
	typ := reflect.TypeOf(config.RunConfig{})
	keys := make(map[string]bool, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		if tag := typ.Field(i).Tag.Get("mapstructure"); tag != "" {
			keys[tag] = true
		}
	}
	return keys
}
