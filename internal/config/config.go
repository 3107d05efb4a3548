// Package config loads daemon configuration from TOML files and
// environment variables, validates the streaming settings before any
// streaming activity starts, and watches the config file for live camera
// setting changes.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// envPrefix namespaces all environment overrides.
const envPrefix = "VIRTCAM_"

// LoadConfig fills opts from the TOML file named by its Config field and
// then applies environment variable overrides, with precedence CLI args >
// env vars > config file. Struct fields opt in via `toml:"section.key"`
// and `env:"KEY"` tags. If cmd is provided, flags explicitly set on the
// command line are never overwritten. A missing config file is not an
// error; a malformed one is.
func LoadConfig(opts any, cmd *cobra.Command) error {
	v := reflect.ValueOf(opts).Elem()
	t := v.Type()

	// Build the set of flags explicitly changed via CLI
	changedFlags := make(map[string]bool)
	if cmd != nil {
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed {
				changedFlags[f.Name] = true
			}
		})
	}

	// The Config field names the TOML file
	var configPath string
	if f := v.FieldByName("Config"); f.IsValid() && f.Kind() == reflect.String {
		configPath = f.String()
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			var raw map[string]any
			if err := toml.Unmarshal(data, &raw); err != nil {
				return fmt.Errorf("config: parse %s: %w", configPath, err)
			}

			for i := 0; i < v.NumField(); i++ {
				if changedFlags[fieldNameToFlag(t.Field(i).Name)] {
					continue
				}
				tomlPath := t.Field(i).Tag.Get("toml")
				if tomlPath == "" {
					continue
				}
				if value := lookupPath(raw, tomlPath); value != nil {
					assign(v.Field(i), value)
				}
			}
		}
	}

	for i := 0; i < v.NumField(); i++ {
		if changedFlags[fieldNameToFlag(t.Field(i).Name)] {
			continue
		}
		envKey := t.Field(i).Tag.Get("env")
		if envKey == "" {
			continue
		}
		if envValue := os.Getenv(envPrefix + envKey); envValue != "" {
			assignString(v.Field(i), envValue)
		}
	}

	return nil
}

// fieldNameToFlag converts a struct field name to its CLI flag name.
// Example: "LoggingLevel" -> "logging-level", "Port" -> "port".
func fieldNameToFlag(fieldName string) string {
	var result []rune
	for i, r := range fieldName {
		if i > 0 && unicode.IsUpper(r) {
			result = append(result, '-')
		}
		result = append(result, unicode.ToLower(r))
	}
	return string(result)
}

// lookupPath retrieves a value from nested maps using dot notation.
func lookupPath(data map[string]any, path string) any {
	parts := strings.Split(path, ".")
	current := data

	for i, part := range parts {
		if i == len(parts)-1 {
			return current[part]
		}
		next, ok := current[part].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return nil
}

// assign sets a struct field from a decoded TOML value.
func assign(field reflect.Value, value any) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		if s, ok := value.(string); ok {
			field.SetString(s)
		}
	case reflect.Bool:
		if b, ok := value.(bool); ok {
			field.SetBool(b)
		}
	case reflect.Int:
		switch n := value.(type) {
		case int64:
			field.SetInt(n)
		case int:
			field.SetInt(int64(n))
		}
	}
}

// assignString sets a struct field from an environment variable string.
func assignString(field reflect.Value, value string) {
	if !field.CanSet() {
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		if b, err := strconv.ParseBool(value); err == nil {
			field.SetBool(b)
		}
	case reflect.Int:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			field.SetInt(n)
		}
	}
}
