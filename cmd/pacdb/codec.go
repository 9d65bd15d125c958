package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/epithet-ssh/pacdb/pkg/desc"
	"github.com/epithet-ssh/pacdb/pkg/pacman"
)

// DecodeCLI converts a desc record to JSON.
type DecodeCLI struct {
	File   string `arg:"" optional:"" default:"-" help:"desc file to read, - for stdin"`
	Kind   string `short:"k" enum:"package,files,raw" default:"package" help:"Record kind: package, files, or raw (every field as a list of lines)"`
	Strict bool   `help:"Reject unknown fields"`
}

func (d *DecodeCLI) Run(logger *slog.Logger, out io.Writer) error {
	data, err := readInput(d.File)
	if err != nil {
		return err
	}

	var opts []desc.Option
	if d.Strict {
		opts = append(opts, desc.DisallowUnknownFields())
	}

	var v any
	switch d.Kind {
	case "package":
		var pkg pacman.Package
		if err := desc.Unmarshal(data, &pkg, opts...); err != nil {
			return err
		}
		if err := pkg.Validate(); err != nil {
			return err
		}
		v = &pkg
	case "files":
		var files pacman.Files
		if err := desc.Unmarshal(data, &files, opts...); err != nil {
			return err
		}
		v = &files
	case "raw":
		raw := map[string][]string{}
		if err := desc.Unmarshal(data, &raw); err != nil {
			return err
		}
		v = raw
	}
	logger.Debug("decoded record", "file", d.File, "kind", d.Kind, "bytes", len(data))

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// EncodeCLI converts JSON to a desc record.
type EncodeCLI struct {
	File string `arg:"" optional:"" default:"-" help:"JSON file to read, - for stdin"`
	Kind string `short:"k" enum:"package,files,raw" default:"package" help:"Record kind: package, files, or raw (an object of string lists)"`
}

func (e *EncodeCLI) Run(out io.Writer) error {
	data, err := readInput(e.File)
	if err != nil {
		return err
	}

	var v any
	switch e.Kind {
	case "package":
		var pkg pacman.Package
		if err := json.Unmarshal(data, &pkg); err != nil {
			return fmt.Errorf("invalid package JSON: %w", err)
		}
		if err := pkg.Validate(); err != nil {
			return err
		}
		v = &pkg
	case "files":
		var files pacman.Files
		if err := json.Unmarshal(data, &files); err != nil {
			return fmt.Errorf("invalid files JSON: %w", err)
		}
		v = &files
	case "raw":
		raw := map[string][]string{}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		v = raw
	}

	return desc.NewEncoder(out).Encode(v)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read input: %w", err)
	}
	return data, nil
}
