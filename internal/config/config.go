// Package config loads optional VM tuning knobs from a TOML file: the
// initial GC threshold and the stress-GC debug flag. The value-stack and
// call-frame capacities are fixed constants in pkg/vm and cannot be set
// here. None of this is required to run smog — every field has a
// sane built-in default per spec.md §4.D and §4.G — so the file is only
// consulted when the host explicitly points at one.
package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"github.com/naoina/toml"

	"github.com/kristofer/smog/pkg/heap"
)

// tomlSettings mirrors the field-name normalization used throughout the
// retrieval pack's TOML configs: Go struct field names are used verbatim as
// TOML keys, and an unrecognized key is a hard error rather than silently
// ignored.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// VM holds the subset of spec.md's recommended VM/GC defaults that are
// worth tuning from the outside: the allocator's initial collection
// threshold and the stress-GC debug mode (spec.md §4.B, §4.D).
type VM struct {
	InitialGCThreshold int  `toml:",omitempty"`
	StressGC           bool `toml:",omitempty"`
}

// Config is the top-level shape of an optional smog configuration file.
type Config struct {
	VM VM
}

// Default returns a Config matching the VM's built-in defaults, used when
// no configuration file is supplied.
func Default() Config {
	return Config{}
}

// Load reads and decodes a TOML configuration file at path.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
		if _, ok := err.(*toml.LineError); ok {
			return cfg, fmt.Errorf("%s, %w", path, err)
		}
		return cfg, err
	}
	return cfg, nil
}

// Apply wires the loaded tuning knobs into h, overriding its built-in
// defaults where the config file set them explicitly.
func (c Config) Apply(h *heap.Heap) {
	if c.VM.InitialGCThreshold > 0 {
		h.SetNextGC(c.VM.InitialGCThreshold)
	}
	h.SetStressGC(c.VM.StressGC)
}
