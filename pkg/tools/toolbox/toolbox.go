// Package toolbox holds named tools and dispatches calls to them one at a
// time.
package toolbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Result is the outcome of a Call.
type Result struct {
	Content string
	IsError bool
}

// ToolBox is a registry of tools. Calls are serialized: a second Call waits
// until the first returns.
type ToolBox struct {
	tools map[string]Tool
	mu    sync.Mutex
}

// New creates an empty ToolBox.
func New() *ToolBox {
	return &ToolBox{tools: make(map[string]Tool)}
}

// Register adds tools, replacing any with the same name.
func (tb *ToolBox) Register(tools ...Tool) {
	for _, t := range tools {
		tb.tools[t.Name] = t
	}
}

// Get returns a tool by name.
func (tb *ToolBox) Get(name string) (Tool, bool) {
	t, ok := tb.tools[name]
	return t, ok
}

// Tools returns the registered tools sorted by name.
func (tb *ToolBox) Tools() []Tool {
	result := make([]Tool, 0, len(tb.tools))
	for _, t := range tb.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Call runs the named tool. Unknown tools and handler errors are reported
// in the Result rather than returned.
func (tb *ToolBox) Call(ctx context.Context, name string, input json.RawMessage) Result {
	t, ok := tb.tools[name]
	if !ok {
		return Result{Content: fmt.Sprintf("tool not found: %s", name), IsError: true}
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	out, err := t.Handler(ctx, input)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}
	}
	return Result{Content: out}
}
