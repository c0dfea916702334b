// Package mcp exposes a workspace as MCP tools.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the workspace directly. Tools cover the tree, the selection,
// context assembly and paged content reads. Content returned to clients
// passes through a secrets.Scrubber.
package mcp
