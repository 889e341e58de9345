// Package debugreport renders the diagnostics captured for failed tests: a
// markdown summary of a class directory and a unified diff of two settings
// dumps.
package debugreport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/germanamz/devicelab/pkg/debugdir"
	"github.com/pmezard/go-difflib/difflib"
)

// Summarize lists the tests that left diagnostics in dir, one section per
// test with a row per artifact.
func Summarize(dir debugdir.Dir) (string, error) {
	artifacts, err := dir.Artifacts()
	if err != nil {
		return "", fmt.Errorf("debugreport: summarize: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Diagnostics in `%s`\n\n", dir.Root())

	if len(artifacts) == 0 {
		b.WriteString("No failed tests captured.\n")
		return b.String(), nil
	}

	current := ""
	for _, a := range artifacts {
		if a.Test != current {
			if current != "" {
				b.WriteString("\n")
			}
			current = a.Test
			fmt.Fprintf(&b, "## %s\n\n", a.Test)
			b.WriteString("| Artifact | File | Size |\n|---|---|---|\n")
		}

		size := "?"
		if info, statErr := os.Stat(a.Path); statErr == nil {
			size = fmt.Sprintf("%d B", info.Size())
		}
		fmt.Fprintf(&b, "| %s | `%s` | %s |\n", a.Kind, a.Path, size)
	}

	return b.String(), nil
}

// DiffSettings returns a unified diff between two settings dumps. Both are
// re-encoded with sorted keys and indentation so unrelated formatting does
// not show up. Identical settings yield "".
func DiffSettings(nameA string, a []byte, nameB string, b []byte) (string, error) {
	left, err := normalize(a)
	if err != nil {
		return "", fmt.Errorf("debugreport: diff %s: %w", nameA, err)
	}

	right, err := normalize(b)
	if err != nil {
		return "", fmt.Errorf("debugreport: diff %s: %w", nameB, err)
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(left),
		B:        difflib.SplitLines(right),
		FromFile: nameA,
		ToFile:   nameB,
		Context:  2,
	})
	if err != nil {
		return "", fmt.Errorf("debugreport: diff: %w", err)
	}

	return diff, nil
}

// DiffSettingsFiles reads two settings dumps and diffs them.
func DiffSettingsFiles(pathA, pathB string) (string, error) {
	a, err := os.ReadFile(pathA) //nolint:gosec // paths come from the operator
	if err != nil {
		return "", fmt.Errorf("debugreport: read: %w", err)
	}

	b, err := os.ReadFile(pathB) //nolint:gosec // paths come from the operator
	if err != nil {
		return "", fmt.Errorf("debugreport: read: %w", err)
	}

	return DiffSettings(pathA, a, pathB, b)
}

// normalize decodes into generic values; encoding/json writes map keys in
// sorted order.
func normalize(data []byte) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}

	return string(out) + "\n", nil
}
