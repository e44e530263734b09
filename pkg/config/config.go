// Package config loads runtime tuning values for the Viua VM: scheduler
// pool sizes, the library search path, and the trace sink. Values come
// from three layers, lowest precedence first: an optional viua.toml
// file, environment variables (VIUA_PROC_SCHEDULERS and friends), then
// CLI flags applied by the caller on top of the result.
package config

import (
	"bufio"
	"errors"
	"os"
	"reflect"
	"strconv"
	"unicode"

	"github.com/naoina/toml"
)

// tomlSettings mirrors the teacher's field-name normalisation: TOML keys
// match Go struct field names exactly, no case-folding or underscoring.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string { return key },
	FieldToKey:    func(rt reflect.Type, field string) string { return field },
	MissingField: func(rt reflect.Type, field string) error {
		// Unknown fields in viua.toml are ignored rather than fatal: the
		// file format is expected to gain fields across VM versions.
		return nil
	},
}

// Config holds the tunables named in spec.md §6 plus the library search
// path. Zero values mean "not set by this layer".
type Config struct {
	ProcSchedulers int    `toml:",omitempty"`
	FFISchedulers  int    `toml:",omitempty"`
	IOSchedulers   int    `toml:",omitempty"`
	LibraryPath    string `toml:",omitempty"`
	TraceSink      string `toml:",omitempty"`
}

// Load reads file (if non-empty and present) into a Config, then applies
// environment variable overrides. file may be "", in which case only
// environment variables are consulted. A missing file named explicitly
// by the caller (the -config flag) is an error; env-only operation never
// requires the file to exist.
func Load(file string) (Config, error) {
	var cfg Config
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		if err := tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg); err != nil {
			var lerr *toml.LineError
			if errors.As(err, &lerr) {
				return cfg, errors.New(file + ", " + err.Error())
			}
			return cfg, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := envInt("VIUA_PROC_SCHEDULERS"); v > 0 {
		cfg.ProcSchedulers = v
	}
	if v := envInt("VIUA_FFI_SCHEDULERS"); v > 0 {
		cfg.FFISchedulers = v
	}
	if v := envInt("VIUA_IO_SCHEDULERS"); v > 0 {
		cfg.IOSchedulers = v
	}
	if v := os.Getenv("VIUA_LIBRARY_PATH"); v != "" {
		cfg.LibraryPath = v
	}
	if v := os.Getenv("VIUA_VM_TRACE_FD"); v != "" {
		cfg.TraceSink = v
	}
}

func envInt(name string) int {
	v := os.Getenv(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
