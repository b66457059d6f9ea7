package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"figflow/pkg/logx"
)

// EnvPrefix prefixes environment overrides, e.g. FIGFLOW_ROUTER_COOLDOWN_SECONDS.
const EnvPrefix = "FIGFLOW_"

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig reads path, substitutes ${ENV} placeholders, applies FIGFLOW_*
// overrides and defaults, and validates the result. A missing file yields the
// defaults, which fail validation because no endpoint is configured.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logx.NewLogger("config").Warn("config file %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		expanded := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
			if value := os.Getenv(match[2 : len(match)-1]); value != "" {
				return value
			}
			return match
		})
		if err := json.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyEnvOverrides walks scalar fields by json tag; nested structs extend the
// variable name, so pipeline.max_messages is FIGFLOW_PIPELINE_MAX_MESSAGES.
func applyEnvOverrides(cfg *Config) {
	applyEnvOverridesRecursive(reflect.ValueOf(cfg).Elem(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, prefix string) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		tag := t.Field(i).Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		envKey := strings.ToUpper(prefix + strings.Split(tag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, envKey+"_")
			continue
		}
		if value := os.Getenv(envKey); value != "" {
			setFieldFromEnv(field, value)
		}
	}
}

func setFieldFromEnv(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		if n, err := strconv.Atoi(value); err == nil {
			field.SetInt(int64(n))
		}
	case reflect.Float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			field.SetFloat(f)
		}
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	}
}

// Save writes cfg as indented JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
