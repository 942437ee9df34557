// Package main provides the draftguard CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/draftguard/cli"
)

var (
	// Global flags
	provider string
	dbPath   string
	verbose  bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "draftguard",
		Short: "Screen chat drafts for privacy risk before they are sent",
		Long: `Screens a message draft, together with recent conversation context, for
privacy risk. PII is masked before anything reaches the language model; a
warning with a safer rewrite is shown before a risky send.

Configuration comes from the environment, a .env file, and the optional YAML
file named by DRAFTGUARD_CONFIG (environment wins).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (gemini, openai, anthropic, deepseek); default LLM_PROVIDER or gemini")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path; default DB_PATH or in-memory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(assessCmd())
	rootCmd.AddCommand(maskCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(healthCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the application stack for the duration of fn.
func withApp(ctx context.Context, fn func(*cli.App) error) error {
	app, err := cli.Build(ctx, cli.Options{Provider: provider, DBPath: dbPath, Verbose: verbose})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

func assessCmd() *cobra.Command {
	var history []string
	var sessionID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "assess [draft]",
		Short: "Assess a single draft",
		Long: `Run one two-stage risk assessment on a draft and print the outcome.

History comes from repeated --history flags, oldest first, or from a stored
session with --session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *cli.App) error {
				return cli.Assess(cmd.Context(), app, cmd.OutOrStdout(), args[0], history, sessionID, asJSON)
			})
		},
	}

	cmd.Flags().StringArrayVar(&history, "history", nil, "Previous message, oldest first (repeatable)")
	cmd.Flags().StringVar(&sessionID, "session", "", "Load history from a stored session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")

	return cmd
}

func maskCmd() *cobra.Command {
	var maxTokens int

	cmd := &cobra.Command{
		Use:   "mask [text]",
		Short: "Mask PII and chunk text with the configured backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *cli.App) error {
				return cli.Mask(cmd.Context(), app, cmd.OutOrStdout(), args[0], maxTokens)
			})
		},
	}

	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Chunk budget in estimated tokens; default MASKING_MAX_TOKENS")

	return cmd
}

func chatCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive composer with live risk warnings",
		Long: `Start an interactive composer. Each line you type replaces the draft, which
is assessed once it has been left unchanged for the quiet period (DEBOUNCE).
Use /send to send, /recv to record an incoming message, and /accept or
/continue to answer a warning.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *cli.App) error {
				return cli.Chat(cmd.Context(), app, cmd.InOrStdin(), cmd.OutOrStdout(), sessionID)
			})
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID for conversation persistence (new session if empty)")

	return cmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *cli.App) error {
				return cli.Serve(cmd.Context(), app, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address; default HTTP_ADDR or :8080")

	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve assess_draft and mask_text as MCP tools on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), cli.MCP)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the masking backend and model configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *cli.App) error {
				return cli.Health(cmd.Context(), app, cmd.OutOrStdout())
			})
		},
	}
}
