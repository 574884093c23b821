// Package mcp exposes the runbook catalogue and runner as MCP tools for
// AI agents over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/siftlabs/sift/pkg/catalog"
)

// NewServer creates an MCP server with the sift tools registered.
func NewServer(version string, registry *catalog.Registry, log logrus.FieldLogger) *server.MCPServer {
	h := &Handlers{registry: registry, log: log.WithField("component", "mcp")}

	s := server.NewMCPServer(
		"sift",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("sift/list",
			mcp.WithDescription("List the diagnostic runbooks in the catalogue"),
			mcp.WithString("product", mcp.Description("Only list runbooks for this product (e.g. 'gke')")),
		),
		h.HandleList,
	)

	s.AddTool(
		mcp.NewTool("sift/describe",
			mcp.WithDescription("Describe one runbook: parameters, steps, and what it diagnoses"),
			mcp.WithString("runbook", mcp.Required(), mcp.Description("Full runbook name, e.g. 'gke/cluster-autoscaler'")),
		),
		h.HandleDescribe,
	)

	s.AddTool(
		mcp.NewTool("sift/run",
			mcp.WithDescription("Run a diagnostic runbook against recorded fixtures and return the report"),
			mcp.WithString("runbook", mcp.Required(), mcp.Description("Full runbook name, e.g. 'gke/cluster-autoscaler'")),
			mcp.WithString("fixtures", mcp.Required(), mcp.Description("Directory of recorded snapshot fixtures to replay")),
			mcp.WithObject("params", mcp.Description("Runbook parameters as key/value pairs")),
		),
		h.HandleRun,
	)

	s.AddTool(
		mcp.NewTool("sift/validate",
			mcp.WithDescription("Validate a runbook YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the runbook YAML file")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("sift/schema",
			mcp.WithDescription("Export the runbook document JSON Schema"),
		),
		h.HandleSchema,
	)

	return s
}
