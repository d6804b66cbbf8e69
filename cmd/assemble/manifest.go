package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Manifest describes an assembly in a YAML file, as an alternative to
// repeating --image/--audio/--duration on the command line.
//
//	width: 1280
//	height: 720
//	fps: 24
//	out: video.mp4
//	scenes:
//	  - {index: 0, image: a.png, audio: a.wav, duration: 2.5}
//	  - {index: 1, image: b.png, audio: b.m4a, duration: 3}
type Manifest struct {
	Width  int             `yaml:"width"`
	Height int             `yaml:"height"`
	FPS    int             `yaml:"fps"`
	Out    string          `yaml:"out"`
	Scenes []ManifestScene `yaml:"scenes"`
}

// ManifestScene is one scene entry. Index defaults to the entry's position.
type ManifestScene struct {
	Index    *int    `yaml:"index"`
	Image    string  `yaml:"image"`
	Audio    string  `yaml:"audio"`
	Duration float64 `yaml:"duration"`
}

// LoadManifest reads a manifest. Relative paths inside it are resolved
// against the manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	base := filepath.Dir(path)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	for i := range m.Scenes {
		m.Scenes[i].Image = resolve(m.Scenes[i].Image)
		m.Scenes[i].Audio = resolve(m.Scenes[i].Audio)
	}
	m.Out = resolve(m.Out)

	return &m, nil
}
