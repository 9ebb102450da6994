package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/storekb/internal/adapters/driving/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so assistants can query the
store knowledge base.

Tools: retrieve, ask, sync_status, index_health.

By default, the server communicates over stdio using JSON-RPC. Use --port
to start an HTTP server instead.

Examples:
  # Stdio mode (default, for desktop assistants)
  storekb mcp serve

  # HTTP mode (for MCP Inspector, remote access)
  storekb mcp serve --port 8080

Assistant configuration:
  {
    "mcpServers": {
      "storekb": {
        "command": "/path/to/storekb",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}

	server, err := mcp.NewServer(mcpPorts())
	if err != nil {
		return err
	}

	if port > 0 {
		addr := fmt.Sprintf(":%d", port)
		fmt.Fprintf(cmd.OutOrStdout(), "MCP server listening on http://localhost%s\n", addr)
		return server.RunHTTP(cmd.Context(), addr)
	}

	return server.Run(cmd.Context())
}

func mcpPorts() *mcp.Ports {
	maxChunks, minSim := retrievalDefaults()
	return &mcp.Ports{
		Retrieval:     retrievalService,
		Answer:        answerService,
		Sync:          syncOrchestrator,
		MaxChunks:     maxChunks,
		MinSimilarity: minSim,
	}
}
