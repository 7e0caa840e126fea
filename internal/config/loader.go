package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// envPrefix is the environment variable prefix of every setting.
const envPrefix = "KARIN"

// Sentinel errors wrapped by the loaders.
var (
	ErrConfigFileNotFound = stderrors.New("config file not found")
	ErrConfigParseError   = stderrors.New("config file could not be parsed")
	ErrConfigValidation   = stderrors.New("config validation failed")
)

// newViper builds a Viper instance with YAML file type, the KARIN_ env prefix
// and a key replacer mapping "." to "_", so that "engine.timezone" resolves
// to KARIN_ENGINE_TIMEZONE.  Every Config key is bound explicitly so that
// environment-only deployments unmarshal correctly.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range configKeys(reflect.TypeOf(Config{}), "") {
		_ = v.BindEnv(key)
	}
	return v
}

// configKeys lists the dotted mapstructure keys of every leaf field of t.
func configKeys(t reflect.Type, prefix string) []string {
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if f.Type.Kind() == reflect.Struct && f.Type.PkgPath() != "time" {
			keys = append(keys, configKeys(f.Type, key)...)
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// Load reads the YAML file at configPath, merges KARIN_* environment
// overrides, applies defaults and validates the result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if err := readFile(v, configPath); err != nil {
		return nil, err
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config from KARIN_* environment variables alone.
//
//	KARIN_<SECTION>_<FIELD>   e.g.  KARIN_DATABASE_HOST, KARIN_ENGINE_TIMEZONE
//
// List values are comma separated: KARIN_ENGINE_HOLIDAYS=2025-01-01,2025-05-01.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

// LoadOrEnv loads configPath when set and falls back to the environment.
func LoadOrEnv(configPath string) (*Config, error) {
	if configPath == "" {
		return LoadFromEnv()
	}
	return Load(configPath)
}

func readFile(v *viper.Viper, configPath string) error {
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConfigParseError, configPath, err)
	}
	return nil
}

// unmarshalAndFinalize unmarshals viper state, applies defaults and
// validates.
func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
	}
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigValidation, err)
	}
	return cfg, nil
}

// Watch re-reads configPath whenever it changes on disk and hands the new
// Config to onChange.  A change that fails to parse or validate is reported
// to onError, when set, and the previous configuration stays in force.
// Callers apply only the safe subset at runtime: alert thresholds, holidays
// and roles.
func Watch(configPath string, onChange func(*Config), onError func(error)) error {
	v := newViper()
	if err := readFile(v, configPath); err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

// MustLoad wraps Load and panics on error.  Intended for main().
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
