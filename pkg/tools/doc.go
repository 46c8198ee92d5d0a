// Package tools groups the tool plumbing shared by the MCP server and the
// agent client.
//
//   - [github.com/germanamz/netpilot/pkg/tools/toolbox] - Tool type and the ToolBox registry
//   - [github.com/germanamz/netpilot/pkg/tools/mcpclient] - spawns MCP servers and exposes their tools as toolbox tools
//   - [github.com/germanamz/netpilot/pkg/tools/mcpserver] - serves a toolbox over MCP
//
// mcpclient and mcpserver are thin wrappers around the official MCP Go SDK
// (github.com/modelcontextprotocol/go-sdk) and only share the toolbox types.
package tools
