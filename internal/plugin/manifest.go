package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadManifest reads a PackageConfig from a YAML (or JSON) file. A relative
// local source path is taken relative to the manifest.
func LoadManifest(path string) (PackageConfig, error) {
	var cfg PackageConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read plugin manifest: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse plugin manifest: %w", err)
	}
	if cfg.Name == "" || cfg.Version == "" {
		return cfg, fmt.Errorf("plugin manifest %s: name and version are required", path)
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = SourceCDN
	}
	if strings.EqualFold(cfg.Source.Type, SourceLocal) && cfg.Source.Path != "" && !filepath.IsAbs(cfg.Source.Path) {
		cfg.Source.Path = filepath.Join(filepath.Dir(path), cfg.Source.Path)
	}
	return cfg, nil
}
