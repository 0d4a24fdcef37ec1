// Package mcpserver exposes the compatibility oracle and the safety
// calculator as MCP tools so AI agents can call them directly.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/voltworks/aftercare/pkg/oracle"
)

// NewServer creates an MCP server with the aftercare tools registered.
func NewServer(version string, client oracle.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"aftercare",
		version,
		server.WithToolCapabilities(true),
	)

	h := &handlers{oracle: client}

	s.AddTool(
		mcp.NewTool("aftercare/query_compatibility",
			mcp.WithDescription("Query whether a controller model is compatible with a vehicle model"),
			mcp.WithString("vehicle_model", mcp.Required(), mcp.Description("Vehicle model, e.g. 九号 E100")),
			mcp.WithString("controller_model", mcp.Required(), mcp.Description("Controller model, e.g. Lingbo-72182")),
			mcp.WithString("controller_brand", mcp.Description("Controller brand, e.g. Lingbo")),
		),
		h.HandleQueryCompatibility,
	)

	s.AddTool(
		mcp.NewTool("aftercare/calc_safe_current",
			mcp.WithDescription("Compute the safe maximum bus current for a vehicle build (weakest-component rule)"),
			mcp.WithString("battery_type", mcp.Required(), mcp.Description("lead_acid or lithium")),
			mcp.WithNumber("voltage", mcp.Required(), mcp.Description("Battery voltage (V)")),
			mcp.WithNumber("capacity_ah", mcp.Description("Battery capacity (Ah), required for lead_acid")),
			mcp.WithNumber("bms_current", mcp.Description("BMS continuous current (A), required for lithium")),
			mcp.WithNumber("motor_power_rated", mcp.Required(), mcp.Description("Rated motor power (W)")),
			mcp.WithString("motor_type", mcp.Description("standard or performance")),
			mcp.WithNumber("wire_gauge", mcp.Required(), mcp.Description("Main wire gauge (mm²)")),
			mcp.WithNumber("breaker_rating", mcp.Required(), mcp.Description("Breaker rating (A)")),
			mcp.WithNumber("controller_max_current", mcp.Required(), mcp.Description("Controller nominal max current (A)")),
		),
		h.HandleCalcSafeCurrent,
	)

	return s
}
