// Package tools exposes devicelab operations as MCP (Model Context Protocol)
// tools.
//
// It is organized into sub-packages:
//   - [github.com/germanamz/devicelab/pkg/tools/toolbox]: Tool type and ToolBox registry with sequential dispatch
//   - [github.com/germanamz/devicelab/pkg/tools/mcpserver]: MCP server using the official MCP Go SDK for serving a ToolBox
//
// The device tools themselves live in [github.com/germanamz/devicelab/pkg/devicetools].
package tools
