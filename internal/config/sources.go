package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes one listing source in the YAML catalogue.
type SourceConfig struct {
	Name       string           `yaml:"name"`
	Kind       string           `yaml:"kind"`
	Path       string           `yaml:"path"`
	Limit      int              `yaml:"limit"`
	Categories []CategoryConfig `yaml:"categories"`
}

type CategoryConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Emoji string `yaml:"emoji"`
}

type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

func LoadSources(path string) ([]SourceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSources(raw, filepath.Dir(path))
}

// ParseSources decodes the catalogue. Relative file paths are resolved
// against baseDir.
func ParseSources(raw []byte, baseDir string) ([]SourceConfig, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}

	seen := map[string]struct{}{}
	for i := range f.Sources {
		s := &f.Sources[i]
		if s.Name == "" || s.Kind == "" {
			return nil, fmt.Errorf("sources[%d]: name and kind are required", i)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Path != "" && !filepath.IsAbs(s.Path) && baseDir != "" {
			s.Path = filepath.Join(baseDir, s.Path)
		}
	}
	return f.Sources, nil
}

// DefaultSources is the catalogue used when no YAML file is present: the
// Wildberries catalogue plus JSON exports from the Ozon and AliExpress
// scrapers under dataDir/exports.
func DefaultSources(dataDir string) []SourceConfig {
	wb := "https://www.wildberries.ru/catalog/"
	return []SourceConfig{
		{
			Name:  "wildberries",
			Kind:  "wildberries",
			Limit: 30,
			Categories: []CategoryConfig{
				{Name: "electronics", URL: wb + "elektronika", Emoji: "📱"},
				{Name: "phones", URL: wb + "mobilnye-telefony", Emoji: "📱"},
				{Name: "notebooks", URL: wb + "noutbuki", Emoji: "💻"},
				{Name: "audio", URL: wb + "audio-i-video", Emoji: "🎧"},
				{Name: "shoes", URL: wb + "obuv", Emoji: "👟"},
				{Name: "home", URL: wb + "tovary-dlya-doma", Emoji: "🏠"},
				{Name: "kitchen", URL: wb + "kuhnya", Emoji: "🍳"},
				{Name: "sport", URL: wb + "sport", Emoji: "⚽"},
				{Name: "beauty", URL: wb + "krasota", Emoji: "💄"},
				{Name: "kids", URL: wb + "detyam", Emoji: "🧸"},
			},
		},
		{Name: "ozon", Kind: "file", Path: filepath.Join(dataDir, "exports", "ozon.json")},
		{Name: "aliexpress", Kind: "file", Path: filepath.Join(dataDir, "exports", "aliexpress.json")},
	}
}
