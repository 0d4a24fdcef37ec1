// Package main provides the aftercare binary — the EV after-sales diagnostic
// service and its operator tooling.
package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpserve "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/voltworks/aftercare/pkg/catalog"
	"github.com/voltworks/aftercare/pkg/collector"
	"github.com/voltworks/aftercare/pkg/flow"
	"github.com/voltworks/aftercare/pkg/mcpserver"
	"github.com/voltworks/aftercare/pkg/oracle"
	"github.com/voltworks/aftercare/pkg/safety"
	"github.com/voltworks/aftercare/pkg/serve"
	"github.com/voltworks/aftercare/pkg/session"
	"github.com/voltworks/aftercare/pkg/tui"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var (
	verbose bool
	logger  *zap.Logger
)

func main() {
	loadDotEnv()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads a .env file from the working directory and sets any
// variables that aren't already set in the environment. Lines are KEY=VALUE;
// comments (#) and blanks are skipped. The .env file is gitignored.
func loadDotEnv() {
	f, err := os.Open(".env")
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "aftercare",
	Short: "EV after-sales diagnostic service",
	Long:  "aftercare — guides customers through the standard current-increase diagnostic SOP, with compatibility checks and weakest-link safety analysis.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// envOr returns the environment value or a default.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// --- serve ---

var (
	serveAddr     string
	serveCatalog  string
	serveReqs     string
	serveOracle   string
	serveTable    string
	serveStateDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the diagnostic chat service",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cat, errs := catalog.ValidateFile(serveCatalog)
	if catalog.HasErrors(errs) {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "  %v\n", e)
		}
		return fmt.Errorf("catalog %s failed validation", serveCatalog)
	}
	for _, e := range errs {
		logger.Warn("catalog warning", zap.String("path", e.Path), zap.String("message", e.Message))
	}

	schema := collector.Default()
	if serveReqs != "" {
		var err error
		schema, err = collector.LoadFile(serveReqs)
		if err != nil {
			return fmt.Errorf("load requirement schema: %w", err)
		}
	}

	client, err := buildOracle()
	if err != nil {
		return err
	}

	store, err := session.NewFileStore(serveStateDir)
	if err != nil {
		return err
	}

	engine := flow.New(cat, client, logger, 0)
	srv := serve.New(engine, schema, store, logger)

	logger.Info("aftercare serving",
		zap.String("addr", serveAddr),
		zap.String("catalog", serveCatalog),
		zap.Int("steps", cat.Len()),
		zap.String("version", version))

	httpSrv := &http.Server{
		Addr:              serveAddr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return httpSrv.ListenAndServe()
}

// buildOracle picks the networked backend when an oracle URL is configured,
// otherwise the lookup table (optionally loaded from a fixture file).
func buildOracle() (oracle.Client, error) {
	var entries []oracle.TableEntry
	if serveTable != "" {
		var err error
		entries, err = oracle.LoadTableFile(serveTable)
		if err != nil {
			return nil, err
		}
	}
	table := oracle.NewTableClient(entries)
	if serveOracle == "" {
		return table, nil
	}
	return oracle.NewHTTPClient(serveOracle, oracle.DefaultTimeout, table, logger), nil
}

// --- chat ---

var (
	chatServer  string
	chatSession string
	chatPlain   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with a running aftercare service from the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := chatSession
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		client := tui.NewClient(chatServer, sessionID)
		if chatPlain {
			return tui.RunPlain(client)
		}
		return tui.Run(client)
	},
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [catalog.yaml]",
	Short: "Validate a step catalog YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, errs := catalog.ValidateFile(args[0])

		var errors, warnings []*catalog.ValidationError
		for _, e := range errs {
			if e.Severity == "warning" {
				warnings = append(warnings, e)
			} else {
				errors = append(errors, e)
			}
		}
		for _, w := range warnings {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", w.Phase, w.Message)
			if w.Path != "" {
				fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
			}
		}
		if len(errors) > 0 {
			fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errors))
			for i, e := range errors {
				fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
				if e.Path != "" {
					fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
				}
			}
			return fmt.Errorf("validation failed with %d error(s)", len(errors))
		}
		fmt.Printf("✓ %s is valid (%d steps)\n", cat.Meta.Name, cat.Len())
		return nil
	},
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the catalog JSON Schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := catalog.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- calc ---

var calcCmd = &cobra.Command{
	Use:   "calc [specs.yaml]",
	Short: "Compute the safe maximum bus current for a vehicle build",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read specs: %w", err)
		}
		var specs safety.Specs
		if err := yaml.Unmarshal(data, &specs); err != nil {
			return fmt.Errorf("decode specs: %w", err)
		}
		result, err := safety.Compute(specs)
		if err != nil {
			return err
		}
		fmt.Printf("安全母线电流: %.1fA (短板: %s)\n\n", result.SafeBusCurrent, result.Bottleneck)
		for _, name := range []string{"battery", "motor", "wire", "breaker", "controller"} {
			marker := " "
			if name == result.Bottleneck {
				marker = "▸"
			}
			fmt.Printf("  %s %-10s %8.1fA\n", marker, name, result.Limits[name])
		}
		fmt.Printf("\n%s\n", result.Warning)
		return nil
	},
}

// --- mcp ---

var mcpTable string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the aftercare tools over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []oracle.TableEntry
		if mcpTable != "" {
			var err error
			entries, err = oracle.LoadTableFile(mcpTable)
			if err != nil {
				return err
			}
		}
		s := mcpserver.NewServer(version, oracle.NewTableClient(entries))
		return mcpserve.ServeStdio(s)
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("aftercare %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	serveCmd.Flags().StringVar(&serveAddr, "addr", envOr("AFTERCARE_ADDR", ":8000"), "listen address")
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", envOr("AFTERCARE_CATALOG", "catalogs/sop_diagnostic.yaml"), "step catalog YAML")
	serveCmd.Flags().StringVar(&serveReqs, "requirements", envOr("AFTERCARE_REQUIREMENTS", ""), "required-field schema YAML (default: built-in)")
	serveCmd.Flags().StringVar(&serveOracle, "oracle-url", envOr("AFTERCARE_ORACLE_URL", ""), "remote compatibility oracle base URL (default: lookup table)")
	serveCmd.Flags().StringVar(&serveTable, "compat-table", envOr("AFTERCARE_COMPAT_TABLE", ""), "compatibility fixture table YAML (default: built-in)")
	serveCmd.Flags().StringVar(&serveStateDir, "state-dir", envOr("AFTERCARE_STATE_DIR", ".aftercare/sessions"), "session state directory")

	chatCmd.Flags().StringVar(&chatServer, "server", envOr("AFTERCARE_SERVER", "http://localhost:8000"), "aftercare service URL")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "session id (default: random)")
	chatCmd.Flags().BoolVar(&chatPlain, "plain", false, "line-based REPL instead of the full TUI")

	mcpCmd.Flags().StringVar(&mcpTable, "compat-table", envOr("AFTERCARE_COMPAT_TABLE", ""), "compatibility fixture table YAML (default: built-in)")

	rootCmd.AddCommand(serveCmd, chatCmd, validateCmd, schemaCmd, calcCmd, mcpCmd, versionCmd)
}
