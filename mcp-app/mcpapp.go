package mcpapp

import _ "embed"

// ResourceMIMEType is the MIME type for MCP App HTML resources per the MCP Apps spec.
const ResourceMIMEType = "text/html;profile=mcp-app"

// SystemStatsResourceURI is the MCP resource URI for the system-stats UI.
const SystemStatsResourceURI = "ui://talos-mcp-server/system-stats.html"

//go:embed dist/system-stats-app.html
var systemStatsHTML string

// AppResource represents an embedded MCP App UI resource.
type AppResource struct {
	URI  string
	Name string
	HTML string
}

// ToolMeta returns a _meta map with the MCP Apps ui.resourceUri field set.
func ToolMeta(resourceURI string) map[string]any {
	return map[string]any{
		"ui": map[string]any{
			"resourceUri": resourceURI,
		},
	}
}

// Resources returns all registered MCP App resources.
func Resources() []AppResource {
	return []AppResource{
		{
			URI:  SystemStatsResourceURI,
			Name: "System Stats UI",
			HTML: systemStatsHTML,
		},
	}
}
