// Package mcp exposes solve submission and queries as MCP tools.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and registers solve_submit, solve_get and solve_list over the stdio
// transport. The caller is the local OS user, hashed into an owner ID the
// same way the HTTP surface hashes its caller header. Run diagnostics are
// already redacted when stored.
package mcp
