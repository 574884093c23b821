package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/siftlabs/sift/pkg/catalog"
)

func testHandlers(t *testing.T) *Handlers {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	reg, err := catalog.NewRegistry(log)
	if err != nil {
		t.Fatal(err)
	}
	return &Handlers{registry: reg, log: log}
}

func TestHandleList(t *testing.T) {
	h := testHandlers(t)
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{}

	result, err := h.HandleList(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Error("expected success listing the catalogue")
	}
	text := result.Content[0].(mcp.TextContent).Text
	if !strings.Contains(text, "gke/cluster-autoscaler") {
		t.Errorf("list output missing shipped runbook:\n%s", text)
	}
}

func TestHandleDescribe_Unknown(t *testing.T) {
	h := testHandlers(t)
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"runbook": "gke/nope"}

	result, err := h.HandleDescribe(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for unknown runbook")
	}
}

func TestHandleRun_MissingFixtures(t *testing.T) {
	h := testHandlers(t)
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{"runbook": "gke/cluster-autoscaler"}

	result, err := h.HandleRun(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error without a fixtures directory")
	}
}

func TestHandleSchema(t *testing.T) {
	h := testHandlers(t)
	req := mcp.CallToolRequest{}
	req.Params.Arguments = map[string]any{}

	result, err := h.HandleSchema(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Error("expected success exporting the schema")
	}
	if len(result.Content) == 0 {
		t.Error("expected schema content")
	}
}
