// Package mcp implements the Model Context Protocol (MCP) server for codegraph.
//
// The server exposes three tools to MCP clients:
//   - index_workspace: index a workspace and resolve its call and import edges
//   - get_status: report graph statistics and the last run
//   - list_errors: list errors recorded while indexing
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout is reserved for the protocol; logs go to stderr.
//
// # Basic Usage
//
//	codegraph serve --db .codegraph/graph.db
//
// # Tool: index_workspace
//
//	Request:
//	{
//	  "name": "index_workspace",
//	  "arguments": {
//	    "path": "/path/to/workspace",
//	    "force": false
//	  }
//	}
//
//	Response:
//	{
//	  "run_id": "6f1c...",
//	  "cancelled": false,
//	  "plan": {"new": 12, "changed": 1, "unchanged": 230, "removed": 0},
//	  "files_indexed": 13,
//	  "phase_timings": {"parse_index_ms": 41, "resolved_calls": 57, ...},
//	  "resolution": [{"kind": "CALL", "resolved": 57, "counters": {...}}]
//	}
//
// Only new and changed files are re-indexed unless force is set. A second
// call while a run is in progress fails with ErrorCodeIndexingInProgress.
//
// # Tool: get_status
//
// Takes no arguments. Returns store statistics (files, nodes, edges,
// unresolved calls and imports), whether a run is in progress and the
// summary of the last run made by this server.
//
// # Tool: list_errors
//
//	Request:
//	{
//	  "name": "list_errors",
//	  "arguments": {"file": "pkg/broken.go", "fatal_only": false, "limit": 50}
//	}
//
// # Error Codes
//
//	-32602  Invalid parameters
//	-32603  Internal error
//	-32001  Path holds no supported source files
//	-32002  Indexing already in progress
//	-32003  Nothing indexed yet
package mcp
