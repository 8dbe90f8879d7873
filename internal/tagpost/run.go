package tagpost

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/malloctag/mtag/pkg/tagfilter"
)

// RunOptions mirrors the original tool's -o/-c CLI flags: an input JSON
// snapshot, an optional aggregation config, and an optional output path
// (stdout when empty).
type RunOptions struct {
	InputPath  string
	ConfigPath string
	OutputPath string
}

// RunPostProcess loads a snapshot, applies any configured aggregation
// rules, and writes the resulting JSON document to opts.OutputPath (or
// returns it) — the direct equivalent of invoking the standalone
// postprocess tool against a live snapshot file.
func RunPostProcess(opts RunOptions) ([]byte, error) {
	input, err := os.ReadFile(opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("tagpost: read input: %w", err)
	}

	snap, err := ParseSnapshot(input)
	if err != nil {
		return nil, err
	}

	if opts.ConfigPath != "" {
		configData, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("tagpost: read config: %w", err)
		}
		cfg, err := LoadConfig(configData)
		if err != nil {
			return nil, err
		}
		if _, err := cfg.Apply(snap, tagfilter.NewScopeFilter()); err != nil {
			return nil, err
		}
	}

	out, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("tagpost: marshal result: %w", err)
	}

	if opts.OutputPath != "" {
		if err := os.WriteFile(opts.OutputPath, out, 0o644); err != nil {
			return nil, fmt.Errorf("tagpost: write output: %w", err)
		}
	}
	return out, nil
}

// RunJSONToDOT loads a snapshot JSON document and renders it as DOT,
// writing to opts.OutputPath (or returning it) — the equivalent of the
// standalone json-to-dot conversion tool.
func RunJSONToDOT(opts RunOptions) (string, error) {
	input, err := os.ReadFile(opts.InputPath)
	if err != nil {
		return "", fmt.Errorf("tagpost: read input: %w", err)
	}

	snap, err := ParseSnapshot(input)
	if err != nil {
		return "", err
	}

	dot := RenderDOT(snap)
	if opts.OutputPath != "" {
		if err := os.WriteFile(opts.OutputPath, []byte(dot), 0o644); err != nil {
			return "", fmt.Errorf("tagpost: write output: %w", err)
		}
	}
	return dot, nil
}
