package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func indexWorkspaceTool() mcp.Tool {
	return mcp.NewTool("index_workspace",
		mcp.WithDescription("Index a workspace into the code graph and resolve call and import edges. "+
			"Only new or changed files are re-indexed unless force is set."),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Absolute path to the workspace root"),
		),
		mcp.WithBoolean("force",
			mcp.DefaultBool(false),
			mcp.Description("Re-index every file, ignoring stored content hashes"),
		),
		mcp.WithBoolean("include_vendor",
			mcp.DefaultBool(false),
			mcp.Description("Also index vendor and node_modules directories"),
		),
	)
}

func getStatusTool() mcp.Tool {
	return mcp.NewTool("get_status",
		mcp.WithDescription("Report graph statistics, unresolved edge counts and the outcome of the last indexing run"),
	)
}

// listErrorsTool accepts an optional workspace-relative file filter
func listErrorsTool() mcp.Tool {
	return mcp.NewTool("list_errors",
		mcp.WithDescription("List errors recorded while indexing, optionally for one file"),
		mcp.WithString("file",
			mcp.Description("Workspace-relative path of the file to filter by"),
		),
		mcp.WithBoolean("fatal_only",
			mcp.DefaultBool(false),
			mcp.Description("Only list errors that kept a file out of the graph"),
		),
		mcp.WithNumber("limit",
			mcp.DefaultNumber(defaultErrorLimit),
			mcp.Min(1),
			mcp.Max(maxErrorLimit),
			mcp.Description("Maximum number of errors to return"),
		),
	)
}
