package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kabir325/fogpool/internal/apiclient"
	"github.com/kabir325/fogpool/internal/config"
	"github.com/kabir325/fogpool/internal/engine"
)

var (
	serverURL string
	apiKey    string
)

func main() {
	if err := rootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{Use: "fogpoolctl", Short: "Control a fogpool coordinator", SilenceUsage: true}
	root.PersistentFlags().StringVar(&serverURL, "server", config.GetEnv("FOGPOOL_SERVER", "http://localhost:8080"), "coordinator base URL")
	root.PersistentFlags().StringVar(&apiKey, "api-key", config.GetEnv("FOGPOOL_API_KEY", ""), "API key for /api routes")
	root.SetOut(out)

	var req engine.QueryRequest
	queryCmd := &cobra.Command{
		Use:   "query [prompt...]",
		Short: "Send a prompt to every active client",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Prompt = strings.Join(args, " ")
			res, err := client().Query(cmd.Context(), req)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CLIENT\tMODEL\tSTATUS\tLATENCY\tDETAIL")
			for _, o := range res.Outcomes {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", o.ClientID, o.Model, o.Status, o.Latency.Round(time.Millisecond), o.ErrorDetail)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n\nsession: %s\n", res.CombinedAnswer, res.SessionID)
			return nil
		},
	}
	queryCmd.Flags().StringVar(&req.Context, "context", "", "extra context prepended to the prompt")
	queryCmd.Flags().BoolVar(&req.UseRAG, "rag", false, "inject matching knowledge base documents")
	queryCmd.Flags().StringVar(&req.SessionID, "session", "", "continue an existing chat session")
	queryCmd.Flags().StringVar(&req.Policy, "policy", "", "aggregation policy override")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show pool status",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\nstatus: %s\n", st.Message, st.Status)
			if len(st.AvailableModels) > 0 {
				fmt.Fprintf(out, "models: %s\n", strings.Join(st.AvailableModels, ", "))
			}
			return nil
		},
	}

	var reason string
	reassignCmd := &cobra.Command{
		Use:   "reassign",
		Short: "Re-score every active client",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client().Reassign(cmd.Context(), reason)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d evaluated, %d changed\n", s.Reason, s.Evaluated, s.Changed)
			for _, ch := range s.ChangedClients() {
				fmt.Fprintf(out, "  %s: %s/%s -> %s/%s\n", ch.ClientID, ch.Before.Tier, ch.Before.Model, ch.After.Tier, ch.After.Model)
			}
			return nil
		},
	}
	reassignCmd.Flags().StringVar(&reason, "reason", "", "MANUAL, PERIODIC or CHURN")

	root.AddCommand(queryCmd, statusCmd, reassignCmd, clientsCmd(), ragCmd(), chatCmd())
	return root
}

func client() *apiclient.Client { return apiclient.New(serverURL, apiKey) }

func clientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List registered clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := client().Clients(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tTIER\tSCORE\tMODEL\tLAST HEARTBEAT")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%s\t%s\n", c.ID, c.State, c.Tier, c.Score, c.AssignedModel, c.LastHeartbeatAt.Format("15:04:05"))
			}
			return w.Flush()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Deregister a client",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().DeleteClient(cmd.Context(), args[0])
		},
	})
	return cmd
}

func ragCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rag", Short: "Manage the knowledge base"}

	var title, file string
	addCmd := &cobra.Command{
		Use:   "add [content...]",
		Short: "Add a document from arguments or --file",
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if file != "" {
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				content = string(b)
			}
			id, err := client().AddDocument(cmd.Context(), title, content, nil)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	addCmd.Flags().StringVar(&title, "title", "", "document title")
	addCmd.Flags().StringVar(&file, "file", "", "read content from a file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			docs, err := client().Documents(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSIZE")
			for _, d := range docs {
				fmt.Fprintf(w, "%s\t%s\t%d\n", d.ID, d.Title, len(d.Content))
			}
			return w.Flush()
		},
	}

	var k int
	searchCmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Keyword search",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hits, err := client().Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tID\tTITLE")
			for _, h := range hits {
				fmt.Fprintf(w, "%.2f\t%s\t%s\n", h.Score, h.Document.ID, h.Document.Title)
			}
			return w.Flush()
		},
	}
	searchCmd.Flags().IntVarP(&k, "top", "k", 3, "number of matches")

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().DeleteDocument(cmd.Context(), args[0])
		},
	}
	cmd.AddCommand(addCmd, listCmd, searchCmd, deleteCmd)
	return cmd
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "chat", Short: "Inspect chat sessions"}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := client().Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().IntVar(&limit, "limit", 0, "maximum sessions to list")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client().Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", s.Title)
			for _, m := range s.Messages {
				fmt.Fprintf(out, "\n[%s] %s\n%s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
			}
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().DeleteSession(cmd.Context(), args[0])
		},
	}
	cmd.AddCommand(listCmd, getCmd, deleteCmd)
	return cmd
}
