package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/gravitalia/signaly/platform"

	"gopkg.in/yaml.v3"
)

// Federated services receiving account-wide ("all") sanctions.
type ServicesConfig struct {
	Services []string `yaml:"services"`
}

// A missing file means no federated services beyond the identity service.
func loadServicesConfig(path string) (*ServicesConfig, error) {
	cfg := &ServicesConfig{}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("services config not found, account-wide sanctions only reach the identity service", "path", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading services config: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing services config %s: %w", path, err)
	}
	for _, svc := range cfg.Services {
		if err := checkURL(svc); err != nil {
			return nil, fmt.Errorf("services config %s: %w", path, err)
		}
	}
	return cfg, nil
}

// Parses repeated "name=url" platform flags.
func parsePlatforms(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		name, u, ok := strings.Cut(entry, "=")
		name = platform.NormalizeName(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid platform %q: expected name=url", entry)
		}
		if name == platform.Wildcard {
			return nil, fmt.Errorf("invalid platform %q: %q is reserved", entry, platform.Wildcard)
		}
		if err := checkURL(u); err != nil {
			return nil, fmt.Errorf("invalid platform %q: %w", entry, err)
		}
		out[name] = u
	}
	return out, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL must be http or https: %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("URL missing host: %q", raw)
	}
	return nil
}
