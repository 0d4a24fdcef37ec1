package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/voltworks/aftercare/pkg/oracle"
	"github.com/voltworks/aftercare/pkg/safety"
)

type handlers struct {
	oracle oracle.Client
}

// HandleQueryCompatibility implements the aftercare/query_compatibility tool.
func (h *handlers) HandleQueryCompatibility(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	vehicle, _ := args["vehicle_model"].(string)
	controller, _ := args["controller_model"].(string)
	brand, _ := args["controller_brand"].(string)
	if vehicle == "" || controller == "" {
		return errorResult("vehicle_model and controller_model arguments are required"), nil
	}

	verdict, err := h.oracle.Query(ctx, vehicle, controller, brand)
	if err != nil {
		return errorResult("compatibility query failed: " + err.Error()), nil
	}
	return jsonResult(verdict), nil
}

// HandleCalcSafeCurrent implements the aftercare/calc_safe_current tool.
func (h *handlers) HandleCalcSafeCurrent(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	specs, err := safety.FromInfo(args)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	result, err := safety.Compute(specs)
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return jsonResult(result), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("marshal result: " + err.Error())
	}
	return textResult(string(data))
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(text)},
		IsError: true,
	}
}
