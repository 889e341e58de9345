// Package testvars loads the free-form test variables handed to every test.
// Files are JSON with // and /* */ comments and trailing commas allowed.
package testvars

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"
)

// KeyXMLOutput names the optional XML report path. Its directory becomes the
// parent of failure diagnostics.
const KeyXMLOutput = "xml_output"

// Vars is the test variables mapping.
type Vars map[string]any

// Parse decodes a JSON-with-comments object.
func Parse(data []byte) (Vars, error) {
	var v Vars
	if err := json.Unmarshal(jsonc.ToJSON(data), &v); err != nil {
		return nil, fmt.Errorf("testvars: parse: %w", err)
	}
	if v == nil {
		v = Vars{}
	}
	return v, nil
}

// Load reads and parses path. An empty path yields empty Vars.
func Load(path string) (Vars, error) {
	if path == "" {
		return Vars{}, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("testvars: read %s: %w", path, err)
	}

	v, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return v, nil
}

// String returns the string value of key, or "" when absent or not a string.
func (v Vars) String(key string) string {
	s, _ := v[key].(string)
	return s
}

// XMLOutput returns the configured XML report path, or "".
func (v Vars) XMLOutput() string {
	return v.String(KeyXMLOutput)
}
