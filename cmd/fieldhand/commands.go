package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/fieldhand/internal/api"
	"github.com/kalambet/fieldhand/internal/assistant"
	"github.com/kalambet/fieldhand/internal/config"
)

// resolveUser returns the --user flag or, when unset, assistant.default_user_id.
func resolveUser(cmd *cobra.Command) (int64, error) {
	if id, _ := cmd.Flags().GetInt64("user"); id > 0 {
		return id, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return 0, err
	}
	if cfg.Assistant.DefaultUserID > 0 {
		return int64(cfg.Assistant.DefaultUserID), nil
	}
	return 0, fmt.Errorf("no user: pass --user or run `fieldhand config set assistant.default_user_id <id>`")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the farm assistant a question",
	Long: `Ask the farm assistant a question.

Examples:
  fieldhand ask "When is the next harvest on farm 2?"
  fieldhand ask --user 3 "What tasks are pending in Kasese?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := resolveUser(cmd)
		if err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetBool("raw")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runAsk(cmd.Context(), client, os.Stdout, strings.Join(args, " "), userID, raw)
	},
}

func runAsk(ctx context.Context, client *apiClient, w io.Writer, question string, userID int64, raw bool) error {
	resp, err := client.post(ctx, "/v1/assistant/query", api.QueryRequest{Query: question, UserID: userID})
	if err != nil {
		return err
	}

	var msg assistant.Message
	if err := decodeJSON(resp, &msg); err != nil {
		return err
	}

	if raw {
		fmt.Fprintln(w, msg.Content)
	} else {
		fmt.Fprint(w, renderMarkdown(msg.Content))
	}
	if msg.Fallback {
		printWarning("Question was not understood precisely; showing a task summary instead")
	}
	return nil
}

func init() {
	askCmd.Flags().Int64("user", 0, "farm owner id (default assistant.default_user_id)")
	askCmd.Flags().Bool("raw", false, "print the Markdown answer without rendering")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent conversation with the assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := resolveUser(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		msgs, err := fetchHistory(cmd.Context(), client, userID, limit)
		if err != nil {
			return err
		}
		writeHistory(os.Stdout, msgs)
		return nil
	},
}

func fetchHistory(ctx context.Context, client *apiClient, userID int64, limit int) ([]assistant.Message, error) {
	q := url.Values{}
	q.Set("user_id", fmt.Sprint(userID))
	q.Set("limit", fmt.Sprint(limit))

	resp, err := client.get(ctx, "/v1/assistant/history?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var msgs []assistant.Message
	if err := decodeJSON(resp, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func writeHistory(w io.Writer, msgs []assistant.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages yet.")
		return
	}
	for _, m := range msgs {
		content := strings.Join(strings.Fields(m.Content), " ")
		if len(content) > 100 {
			content = content[:100] + "..."
		}
		role := colorize(colorCyan, fmt.Sprintf("%-9s", m.Role))
		if m.Role == assistant.RoleUser {
			role = colorize(colorBold, fmt.Sprintf("%-9s", m.Role))
		}
		fmt.Fprintf(w, "%s  %s  %s\n", m.Timestamp.Local().Format("2006-01-02 15:04"), role, content)
	}
}

func init() {
	historyCmd.Flags().Int64("user", 0, "farm owner id (default assistant.default_user_id)")
	historyCmd.Flags().Int("limit", 20, "maximum number of messages to show")
}

// --- sql ---

var sqlCmd = &cobra.Command{
	Use:   "sql <question>",
	Short: "Translate a question into a checked, read-only SQL query",
	Long: `Translate a question into SQL over the farm schema.

The statement is checked before anything runs: only a single SELECT over
the farm tables is accepted. It is executed only when sqlgen.execute_enabled
is true.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := resolveUser(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return runSQL(cmd.Context(), client, os.Stdout, strings.Join(args, " "), userID)
	},
}

func runSQL(ctx context.Context, client *apiClient, w io.Writer, question string, userID int64) error {
	resp, err := client.post(ctx, "/v1/assistant/sql", api.QueryRequest{Query: question, UserID: userID})
	if err != nil {
		return err
	}

	var out api.SQLResponse
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}

	fmt.Fprintln(w, out.Answer.SQL)
	fmt.Fprintln(w)
	if out.Answer.Result == nil {
		printStatus("Verdict", "%s (not executed)", out.Answer.Verdict)
		return nil
	}
	writeResultSet(w, *out.Answer.Result)
	return nil
}

func init() {
	sqlCmd.Flags().Int64("user", 0, "farm owner id (default assistant.default_user_id)")
}

// --- seed ---

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a demo plantation into the local database",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		printStep("Opening %s storage...", cfg.Storage.Driver)
		store, err := openStore(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		res, err := store.Seed(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("seeding: %w", err)
		}

		if res.Created {
			printSuccess("Created demo owner %d with %d farms and %d plots", res.OwnerID, len(res.FarmIDs), len(res.PlotIDs))
		} else {
			printWarning("Demo data already present (owner %d)", res.OwnerID)
		}
		if cfg.Assistant.DefaultUserID != int(res.OwnerID) {
			printStep("Run `fieldhand config set assistant.default_user_id %d` to ask as the demo owner", res.OwnerID)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("Settings from %s (FIELDHAND_* overrides)\n", config.StoreLocation())
		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s in %s", key, value, config.StoreLocation())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
