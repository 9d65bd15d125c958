// Package config loads pacdb configuration files.
//
// YAML, JSON, and CUE are all read through CUE and unified with an embedded
// schema, so every format gets the same defaults and validation.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/encoding/yaml"
)

// LoadValueFromReader reads YAML (and therefore JSON) from r into a CUE
// value built in ctx.
func LoadValueFromReader(ctx *cue.Context, r io.Reader) (cue.Value, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to read config: %w", err)
	}
	return loadData(ctx, "", data)
}

func loadData(ctx *cue.Context, name string, data []byte) (cue.Value, error) {
	file, err := yaml.Extract(name, data)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to parse config: %w", err)
	}

	val := ctx.BuildFile(file)
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to build CUE value: %w", err)
	}
	return val, nil
}

// LoadValue loads a file or directory into a CUE value built in ctx.
//
// Directories and .cue files are loaded as CUE instances, so files in a
// directory may import each other. Anything else is parsed as YAML; JSON
// files are compiled directly.
func LoadValue(ctx *cue.Context, path string) (cue.Value, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to stat path: %w", err)
	}

	if !fileInfo.IsDir() && !strings.HasSuffix(strings.ToLower(path), ".cue") {
		data, err := os.ReadFile(path)
		if err != nil {
			return cue.Value{}, fmt.Errorf("failed to read file: %w", err)
		}

		if strings.ToLower(filepath.Ext(path)) == ".json" {
			val := ctx.CompileBytes(data, cue.Filename(path))
			if err := val.Err(); err != nil {
				return cue.Value{}, fmt.Errorf("failed to build CUE value: %w", err)
			}
			return val, nil
		}
		return loadData(ctx, path, data)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return cue.Value{}, fmt.Errorf("failed to resolve path: %w", err)
	}

	// A directory is loaded as the package in it; absolute directories are
	// not valid package paths.
	cfg := &load.Config{DataFiles: true}
	var args []string
	if fileInfo.IsDir() {
		cfg.Dir = absPath
		args = []string{"."}
	} else {
		cfg.Dir = filepath.Dir(absPath)
		args = []string{absPath}
	}

	instances := load.Instances(args, cfg)
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no instances loaded from %s", path)
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("failed to load config: %w", inst.Err)
	}

	val := ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to build CUE value: %w", err)
	}
	return val, nil
}

// LoadAndUnifyPaths loads every file matching the glob patterns and unifies
// them into one value. Patterns matching nothing are skipped, so optional
// locations such as /etc/pacdb/*.yaml can always be listed. Conflicting
// values across files are an error.
func LoadAndUnifyPaths(ctx *cue.Context, patterns []string) (cue.Value, error) {
	result := ctx.CompileString("{}")

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return cue.Value{}, fmt.Errorf("invalid config pattern %q: %w", pattern, err)
		}

		for _, path := range matches {
			val, err := LoadValue(ctx, path)
			if err != nil {
				return cue.Value{}, fmt.Errorf("%s: %w", path, err)
			}
			result = result.Unify(val)
			if err := result.Err(); err != nil {
				return cue.Value{}, fmt.Errorf("%s: conflicting config: %w", path, err)
			}
		}
	}

	if err := result.Validate(); err != nil {
		return cue.Value{}, fmt.Errorf("conflicting config: %w", err)
	}
	return result, nil
}
