package validation

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Policy is the externally configurable part of validation: which
// capabilities are denied outright and which patterns are merely risky.
// Mechanism (parsing, complexity, entry-point detection) is fixed.
type Policy struct {
	// ForbiddenIdentifiers are capability names whose presence blocks a
	// script: module loaders, process access, filesystem, raw sockets.
	ForbiddenIdentifiers []string `yaml:"forbidden_identifiers"`

	// DangerousPatterns are regular expressions that flag risk without
	// forcing a block (dynamic code evaluation and similar).
	DangerousPatterns []string `yaml:"dangerous_patterns"`

	// MaxScriptSize bounds input size in bytes so validation time stays
	// bounded regardless of content.
	MaxScriptSize int `yaml:"max_script_size"`
}

// DefaultPolicy returns the compiled-in denylist.
func DefaultPolicy() Policy {
	return Policy{
		ForbiddenIdentifiers: []string{
			"require",
			"process",
			"child_process",
			"fs",
			"net",
			"dgram",
			"Deno",
			"Bun",
			"Worker",
			"WebAssembly",
			"XMLHttpRequest",
			"importScripts",
		},
		DangerousPatterns: []string{
			`\beval\s*\(`,
			`new\s+Function\s*\(`,
			`\bFunction\s*\(\s*["'` + "`" + `]`,
			`setTimeout\s*\(\s*["'` + "`" + `]`,
			`setInterval\s*\(\s*["'` + "`" + `]`,
			`\bglobalThis\s*\[`,
			`__proto__`,
		},
		MaxScriptSize: 50000,
	}
}

// LoadPolicy reads a YAML policy file. Fields left empty in the file
// fall back to the compiled-in default.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}

	policy := DefaultPolicy()
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if policy.MaxScriptSize <= 0 {
		policy.MaxScriptSize = DefaultPolicy().MaxScriptSize
	}
	return policy, nil
}
