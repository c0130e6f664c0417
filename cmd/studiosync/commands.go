package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/studiosync/studiosync/internal/exchange"
	"github.com/studiosync/studiosync/internal/provider"
)

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint and save a session token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/auth/token", map[string]string{"user_id": args[0]})
		if err != nil {
			return err
		}
		var result struct {
			Token     string `json:"token"`
			ExpiresAt string `json:"expires_at"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if err := client.saveToken(result.Token); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
		printSuccess("Session token saved for %s", args[0])
		printStatus("Expires", "%s", result.ExpiresAt)
		return nil
	},
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message and stream the response",
	Long: `Send a message and stream the response. Extracted work blocks are queued
for the Studio plugin automatically. Ctrl-C aborts the stream and keeps the
text received so far.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		chatID, _ := cmd.Flags().GetString("chat")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		var history []provider.Message
		if chatID != "" {
			history, err = fetchHistory(ctx, client, chatID)
			if err != nil {
				return err
			}
		}

		body := map[string]any{"message": message}
		if chatID != "" {
			body["chatId"] = chatID
		}
		if len(history) > 0 {
			body["conversationHistory"] = history
		}

		resp, err := client.stream(ctx, "/api/chat", body)
		if err != nil {
			return err
		}
		if resp.StatusCode != 200 {
			return decodeJSON(resp, &struct{}{})
		}

		runner := &exchange.Runner{
			OnDelta: func(text string) { fmt.Print(text) },
			OnState: func(s exchange.State) {
				if s == exchange.StateWorking {
					fmt.Println()
					printStep("Queueing work for Studio...")
				}
			},
		}
		result, err := runner.Run(ctx, resp.Body)
		if err != nil {
			return err
		}
		fmt.Println()

		switch {
		case result.State == exchange.StateError:
			printError("%s", result.ErrMsg)
		case result.Aborted:
			printWarning("Aborted; partial response kept")
		case result.Pushed:
			printSuccess("Work queued for the Studio plugin")
		}

		// A delivery-leg failure still produced a complete response; anything
		// with final text is worth keeping. Only a failed generation (which
		// yields no text) skips persistence.
		if chatID != "" && result.Text != "" {
			persistTurn(ctx, client, chatID, message, result.Text)
		}
		return nil
	},
}

func fetchHistory(ctx context.Context, client *apiClient, chatID string) ([]provider.Message, error) {
	resp, err := client.get(ctx, "/api/chats/"+chatID+"/messages")
	if err != nil {
		return nil, err
	}
	var out struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	history := make([]provider.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		history = append(history, provider.Message{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

// persistTurn saves the finalized exchange. Only the user message and the
// final response text are written; transient states never are. Best effort:
// a persistence failure does not fail the chat.
func persistTurn(ctx context.Context, client *apiClient, chatID, userMsg, assistantText string) {
	msgs := []map[string]string{{"role": "user", "content": userMsg}}
	if assistantText != "" {
		msgs = append(msgs, map[string]string{"role": "assistant", "content": assistantText})
	}
	for _, m := range msgs {
		resp, err := client.post(ctx, "/api/chats/"+chatID+"/messages", m)
		if err != nil {
			printWarning("could not save message: %v", err)
			return
		}
		if err := decodeJSON(resp, &struct{}{}); err != nil {
			printWarning("could not save message: %v", err)
			return
		}
	}
}

func init() {
	chatCmd.Flags().String("chat", "", "chat id to load history from and persist the exchange to")
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Inspect and drive the delivery queue",
}

var syncPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "Show the oldest undelivered work item",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/sync/pending")
		if err != nil {
			return err
		}
		var out struct {
			Item      json.RawMessage `json:"item"`
			LastError *struct {
				Message string `json:"message"`
				Script  string `json:"script"`
				Line    int    `json:"line"`
			} `json:"lastError"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if out.LastError != nil {
			printWarning("Runtime error: %s (%s:%d)", out.LastError.Message, out.LastError.Script, out.LastError.Line)
		}
		if len(out.Item) == 0 || string(out.Item) == "null" {
			fmt.Println("No pending work.")
			return nil
		}
		var item any
		if err := json.Unmarshal(out.Item, &item); err != nil {
			return err
		}
		return printJSON(item)
	},
}

var syncConfirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Confirm a delivered work item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/sync/confirm", map[string]string{"id": args[0]})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &struct{}{}); err != nil {
			return err
		}
		printSuccess("Confirmed %s", args[0])
		return nil
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push <payload-json>",
	Short: "Push a raw work payload onto the queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload json.RawMessage
		if err := json.Unmarshal([]byte(args[0]), &payload); err != nil {
			return fmt.Errorf("payload is not valid JSON: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/sync/push", map[string]any{"payload": payload})
		if err != nil {
			return err
		}
		var item struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}
		printSuccess("Queued item %s", item.ID)
		return nil
	},
}

var syncContextCmd = &cobra.Command{
	Use:   "context [descriptor ...]",
	Short: "Show or replace the workspace context",
	Long: `With no arguments, prints the current workspace context. With arguments,
replaces the whole context with the given descriptors.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if len(args) > 0 {
			resp, err := client.post(cmd.Context(), "/api/sync/context", map[string]any{"context": args})
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &struct{}{}); err != nil {
				return err
			}
			printSuccess("Workspace context replaced (%d descriptors)", len(args))
			return nil
		}

		resp, err := client.get(cmd.Context(), "/api/sync/context")
		if err != nil {
			return err
		}
		var out struct {
			Context []string `json:"context"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if len(out.Context) == 0 {
			fmt.Println("No workspace context.")
			return nil
		}
		for _, d := range out.Context {
			fmt.Println("- " + d)
		}
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncPendingCmd)
	syncCmd.AddCommand(syncConfirmCmd)
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncContextCmd)
}

// --- chats ---

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "Manage saved chats",
}

var chatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/chats")
		if err != nil {
			return err
		}
		var out struct {
			Chats []struct {
				ID        string `json:"id"`
				Title     string `json:"title"`
				UpdatedAt string `json:"updated_at"`
			} `json:"chats"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if len(out.Chats) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		for _, c := range out.Chats {
			fmt.Printf("%s  %s  %s\n", colorize(colorCyan, c.ID[:8]), c.UpdatedAt, c.Title)
		}
		return nil
	},
}

var chatsNewCmd = &cobra.Command{
	Use:   "new [title]",
	Short: "Create a chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		title := strings.Join(args, " ")
		resp, err := client.post(cmd.Context(), "/api/chats", map[string]string{"title": title})
		if err != nil {
			return err
		}
		var chat struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		}
		if err := decodeJSON(resp, &chat); err != nil {
			return err
		}
		printSuccess("Created chat %s (%s)", chat.ID, chat.Title)
		return nil
	},
}

var chatsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a chat",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/api/chats/"+args[0], map[string]string{"title": args[1]})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &struct{}{}); err != nil {
			return err
		}
		printSuccess("Renamed chat %s", args[0])
		return nil
	},
}

var chatsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a chat and its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/chats/"+args[0])
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &struct{}{}); err != nil {
			return err
		}
		printSuccess("Deleted chat %s", args[0])
		return nil
	},
}

func init() {
	chatsCmd.AddCommand(chatsListCmd)
	chatsCmd.AddCommand(chatsNewCmd)
	chatsCmd.AddCommand(chatsRenameCmd)
	chatsCmd.AddCommand(chatsDeleteCmd)
}
