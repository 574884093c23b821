package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/siftlabs/sift/pkg/catalog"
	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/runtime"
	"github.com/siftlabs/sift/pkg/schema"
	"github.com/siftlabs/sift/pkg/snapshot"
)

// Handlers binds the MCP tools to the catalogue.
type Handlers struct {
	registry *catalog.Registry
	log      logrus.FieldLogger
}

// HandleList implements the sift/list tool.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	product, _ := args["product"].(string)

	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	var entries []entry
	for _, rb := range h.registry.All() {
		if product != "" && rb.Meta.Product != product {
			continue
		}
		entries = append(entries, entry{
			Name:        rb.Meta.FullName(),
			Description: strings.TrimSpace(rb.Meta.Description),
		})
	}

	data, _ := json.MarshalIndent(entries, "", "  ")
	return textResult(string(data)), nil
}

// HandleDescribe implements the sift/describe tool.
func (h *Handlers) HandleDescribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, _ := args["runbook"].(string)

	rb, err := h.registry.Get(name)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	type param struct {
		Type        string `json:"type,omitempty"`
		Required    bool   `json:"required,omitempty"`
		Default     string `json:"default,omitempty"`
		Example     string `json:"example,omitempty"`
		Description string `json:"description,omitempty"`
	}
	response := map[string]any{
		"name":        rb.Meta.FullName(),
		"description": strings.TrimSpace(rb.Meta.Description),
		"steps":       stepTitles(rb.Tree),
	}
	ps := make(map[string]param, len(rb.Meta.Params))
	for n, def := range rb.Meta.Params {
		ps[n] = param{
			Type:        def.Type,
			Required:    def.Required,
			Default:     def.Default,
			Example:     def.Example,
			Description: def.Description,
		}
	}
	response["params"] = ps

	data, _ := json.MarshalIndent(response, "", "  ")
	return textResult(string(data)), nil
}

// HandleRun implements the sift/run tool. Runs always replay recorded
// fixtures: an agent-triggered run never touches live cloud APIs.
func (h *Handlers) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, _ := args["runbook"].(string)
	fixtures, _ := args["fixtures"].(string)
	if fixtures == "" {
		return errorResult("fixtures argument is required"), nil
	}

	rb, err := h.registry.Get(name)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	scenario, err := snapshot.LoadScenario(fixtures)
	if err != nil {
		return errorResult(fmt.Sprintf("load fixtures: %s", err)), nil
	}

	values := make(map[string]string)
	if raw, ok := args["params"].(map[string]any); ok {
		for k, v := range raw {
			values[k] = fmt.Sprint(v)
		}
	}

	eng, err := runtime.NewEngine(rb, snapshot.NewReplayProvider(scenario), values, runtime.Options{
		Mode: "replay",
		Log:  h.log,
	})
	if err != nil {
		return errorResult(err.Error()), nil
	}
	rep := eng.Run(ctx)

	data, _ := json.MarshalIndent(rep, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: rep.Status == report.Failed,
	}, nil
}

// HandleValidate implements the sift/validate tool.
func (h *Handlers) HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	rb, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	return textResult(fmt.Sprintf("✓ %s is valid (%d top-level steps)", rb.Meta.FullName(), len(rb.Tree))), nil
}

// HandleSchema implements the sift/schema tool.
func (h *Handlers) HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// stepTitles flattens the tree into "id: title" lines, indented by depth.
func stepTitles(nodes []schema.StepNode) []string {
	var out []string
	var walk func(nodes []schema.StepNode, depth int)
	walk = func(nodes []schema.StepNode, depth int) {
		indent := strings.Repeat("  ", depth)
		for _, node := range nodes {
			title := node.Step.Title
			if title == "" {
				title = node.Step.Kind
			}
			out = append(out, fmt.Sprintf("%s%s: %s", indent, node.Step.ID, title))
			for _, branch := range node.Branches {
				walk(branch.Steps, depth+1)
			}
			walk(node.Steps, depth+1)
		}
	}
	walk(nodes, 0)
	return out
}

func formatErrors(errs []*schema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
