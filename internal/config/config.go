package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk configuration. Every field is optional; zero values
// defer to flag defaults and design.Config.Normalize.
type File struct {
	Model          string `yaml:"model"`
	TargetScore    int    `yaml:"target_score"`
	MaxIterations  int    `yaml:"max_iterations"`
	OpenSCADBinary string `yaml:"openscad_binary"`
	RenderTimeout  int    `yaml:"render_timeout_secs"`
	DataDir        string `yaml:"data_dir"`
	Listen         string `yaml:"listen"`
	AutoApply      bool   `yaml:"auto_apply"`
}

// LoadFile reads the YAML config at path. A missing file is not an error and
// yields the zero File.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("read config %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return f, nil
}
