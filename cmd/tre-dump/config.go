package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config controls a dump run.
type Config struct {
	SchemaDirs []string
	LogLevel   slog.Level
	Trim       bool
	Format     string
}

type fileConfig struct {
	SchemaDirs []string `toml:"schema_dirs"`
	LogLevel   string   `toml:"log_level"`
	Trim       bool     `toml:"trim"`
	Format     string   `toml:"format"`
}

func defaultConfig() Config {
	return Config{LogLevel: slog.LevelWarn, Format: "text"}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config: unknown key %s", undecoded[0])
	}

	if meta.IsDefined("schema_dirs") {
		cfg.SchemaDirs = normalizeDirs(raw.SchemaDirs)
	}
	if meta.IsDefined("log_level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel))); err != nil {
			return Config{}, fmt.Errorf("parse log_level: %w", err)
		}
	}
	if meta.IsDefined("trim") {
		cfg.Trim = raw.Trim
	}
	if meta.IsDefined("format") {
		cfg.Format = strings.ToLower(strings.TrimSpace(raw.Format))
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Format {
	case "text", "json":
		return nil
	}
	return fmt.Errorf("format %q must be text or json", c.Format)
}

func normalizeDirs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, dir := range in {
		v := strings.TrimSpace(dir)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
