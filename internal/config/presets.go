package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"chisel/pkg/render"
)

// presetsFile is the shape of presets.toml:
//
//	[presets.eval]
//	fn = 48
//	num_steps = 40
//
// Section names match the built-in presets: preview, eval, png, export.
type presetsFile struct {
	Presets map[string]presetEntry `toml:"presets"`
}

type presetEntry struct {
	FN       *float64 `toml:"fn"`
	NumSteps *float64 `toml:"num_steps"`
}

// LoadPresets reads preset overrides from the TOML file at path. A missing
// file is not an error and yields an empty map. Only the values present in a
// section override the built-ins.
func LoadPresets(path string) (map[string]render.Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]render.Overrides{}, nil
		}
		return nil, fmt.Errorf("read presets %s: %w", path, err)
	}

	var f presetsFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}

	out := make(map[string]render.Overrides, len(f.Presets))
	for name, entry := range f.Presets {
		o := render.Overrides{}
		if entry.FN != nil {
			o["$fn"] = *entry.FN
		}
		if entry.NumSteps != nil {
			o["num_steps"] = *entry.NumSteps
		}
		if len(o) > 0 {
			out[name] = o
		}
	}
	return out, nil
}

// ApplyPresets merges loaded overrides onto the built-in render presets.
// Unknown section names are ignored.
func ApplyPresets(overrides map[string]render.Overrides) {
	apply := func(target *render.Overrides, name string) {
		if o, ok := overrides[name]; ok {
			*target = target.Merge(o)
		}
	}
	apply(&render.PresetPreview, "preview")
	apply(&render.PresetEval, "eval")
	apply(&render.PresetPNG, "png")
	apply(&render.PresetExport, "export")
}
