// Package debugdir encapsulates the layout of the diagnostics written when a
// test fails. A Dir is one test class's directory; each failing test writes
// its screenshot, page source, and settings dump there under its own name.
package debugdir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultRoot is the parent of class directories when no XML report path is
// configured.
const DefaultRoot = "debug"

// Kind names a diagnostic artifact.
type Kind string

const (
	// KindScreenshot is the decoded PNG screenshot.
	KindScreenshot Kind = "screenshot"
	// KindPageSource is the markup of the current document.
	KindPageSource Kind = "page-source"
	// KindSettings is the JSON dump of every device setting.
	KindSettings Kind = "settings-dump"
)

// Kinds lists artifact kinds in capture order.
var Kinds = []Kind{KindScreenshot, KindPageSource, KindSettings}

var suffixes = map[Kind]string{
	KindScreenshot: "_screenshot.png",
	KindPageSource: "_source.txt",
	KindSettings:   "_settings.json",
}

// Suffix returns the file name suffix of kind.
func (k Kind) Suffix() string { return suffixes[k] }

// Dir is a value object that resolves artifact paths for one test class.
type Dir struct {
	root string
}

// New creates a Dir at root. No I/O is performed; use Ensure to create it.
func New(root string) Dir {
	return Dir{root: filepath.Clean(root)}
}

// ForTest resolves the directory of class. The parent is the directory of
// xmlOutput when that has one, and root (DefaultRoot when empty) otherwise.
func ForTest(xmlOutput, root, class string) Dir {
	parent := root
	if parent == "" {
		parent = DefaultRoot
	}
	if strings.ContainsRune(xmlOutput, filepath.Separator) {
		parent = filepath.Dir(xmlOutput)
	}
	return New(filepath.Join(parent, class))
}

// Root returns the directory path.
func (d Dir) Root() string { return d.root }

// Path returns the artifact path of kind for test.
func (d Dir) Path(test string, kind Kind) string {
	return filepath.Join(d.root, test+kind.Suffix())
}

// ScreenshotPath returns <dir>/<test>_screenshot.png.
func (d Dir) ScreenshotPath(test string) string { return d.Path(test, KindScreenshot) }

// SourcePath returns <dir>/<test>_source.txt.
func (d Dir) SourcePath(test string) string { return d.Path(test, KindPageSource) }

// SettingsPath returns <dir>/<test>_settings.json.
func (d Dir) SettingsPath(test string) string { return d.Path(test, KindSettings) }

// Ensure creates the directory if it is missing.
func (d Dir) Ensure() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("debugdir: create %s: %w", d.root, err)
	}
	return nil
}

// Exists reports whether the directory exists on disk.
func (d Dir) Exists() bool {
	info, err := os.Stat(d.root)
	return err == nil && info.IsDir()
}

// Artifact is a file found in a Dir.
type Artifact struct {
	Test string
	Kind Kind
	Path string
}

// Artifacts lists the artifacts in the directory, sorted by test then
// capture order. Files that do not follow the naming scheme are skipped. A
// missing directory yields nil.
func (d Dir) Artifacts() ([]Artifact, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("debugdir: list %s: %w", d.root, err)
	}

	var out []Artifact
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		for _, kind := range Kinds {
			if test, ok := strings.CutSuffix(e.Name(), kind.Suffix()); ok && test != "" {
				out = append(out, Artifact{Test: test, Kind: kind, Path: filepath.Join(d.root, e.Name())})
				break
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Test != out[j].Test {
			return out[i].Test < out[j].Test
		}
		return kindOrder(out[i].Kind) < kindOrder(out[j].Kind)
	})

	return out, nil
}

func kindOrder(k Kind) int {
	for i, kind := range Kinds {
		if kind == k {
			return i
		}
	}
	return len(Kinds)
}
