package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/interflow/orchestrator/internal/agents"
	"github.com/interflow/orchestrator/internal/auth"
	"github.com/interflow/orchestrator/internal/workflow"
)

var (
	orchestrateFile string
	workflowID      string
	tokenSecret     string
	tokenIssuer     string
	tokenScopes     []string
	tokenTTL        time.Duration
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate [query]",
	Short: "Run a workflow",
	Long: `Run a research -> analysis -> decision workflow.

With a query argument the standard three tasks are built for you.
With --file the request body is read from a JSON file ("-" for stdin).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := orchestrateBody(args)
		if err != nil {
			return err
		}
		var resp workflow.Response
		if err := newAPIClient().do(http.MethodPost, "/api/orchestrate", body, &resp); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), resp)
	},
}

func orchestrateBody(args []string) ([]byte, error) {
	switch {
	case orchestrateFile == "-":
		return io.ReadAll(os.Stdin)
	case orchestrateFile != "":
		return os.ReadFile(orchestrateFile)
	case len(args) == 1 && strings.TrimSpace(args[0]) != "":
		return json.Marshal(queryRequest(args[0], workflowID))
	default:
		return nil, fmt.Errorf("provide a query or --file")
	}
}

// queryRequest builds the standard pipeline for a single query.
func queryRequest(query, id string) workflow.Request {
	return workflow.Request{
		WorkflowID: id,
		Tasks: []agents.Task{
			agents.NewTask(agents.ResearchInput{Query: query}),
			agents.NewTask(agents.AnalysisInput{}),
			agents.NewTask(agents.DecisionInput{}),
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "Show stage statuses of a workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out map[string]any
		if err := newAPIClient().do(http.MethodGet, "/api/workflows/"+url.PathEscape(args[0]), nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show registered agent health",
	RunE: func(cmd *cobra.Command, _ []string) error {
		var out map[string]bool
		if err := newAPIClient().do(http.MethodGet, "/api/agents/health", nil, &out); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an access token signed with the shared secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			return fmt.Errorf("--secret (or INTERFLOW_AUTH_JWT_SECRET) is required")
		}
		tok, err := auth.NewJWTManager(tokenSecret, tokenIssuer, tokenTTL).IssueToken(args[0], tokenScopes)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	orchestrateCmd.Flags().StringVarP(&orchestrateFile, "file", "f", "", "JSON request file, - for stdin")
	orchestrateCmd.Flags().StringVar(&workflowID, "id", "", "workflow id (generated by the server when empty)")

	tokenCmd.Flags().StringVar(&tokenSecret, "secret", os.Getenv("INTERFLOW_AUTH_JWT_SECRET"), "HS256 signing secret")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", os.Getenv("INTERFLOW_AUTH_ISSUER"), "token issuer")
	tokenCmd.Flags().StringSliceVar(&tokenScopes, "scope", nil, "scopes to grant (default all)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
}
