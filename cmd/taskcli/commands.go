package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/BuzzLyutic/task-summary-api/internal/client"
	"github.com/BuzzLyutic/task-summary-api/internal/model"
	"github.com/BuzzLyutic/task-summary-api/internal/tui"
)

const defaultServer = "http://localhost:8080"

type clientFactory func() *client.Client

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("TASKCLI")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "taskcli",
		Short: "Browse and manage tasks with AI summaries",
		Long: `taskcli talks to the task API server.

Run "taskcli browse" for the interactive view or use the sub-commands
for scripting. The server address comes from --server or TASKCLI_SERVER.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("server", defaultServer, "task API base URL")
	_ = v.BindPFlag("server", root.PersistentFlags().Lookup("server"))

	newClient := func() *client.Client {
		return client.New(v.GetString("server"), nil)
	}

	root.AddCommand(
		newBrowseCmd(newClient),
		newListCmd(newClient),
		newCreateCmd(newClient),
		newEditCmd(newClient),
		newRefreshCmd(newClient),
		newDeleteCmd(newClient),
		newVersionCmd(),
	)
	return root
}

func newBrowseCmd(newClient clientFactory) *cobra.Command {
	var pageSize int
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Interactive task browser",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			view := client.NewView(newClient(), client.Options{PageSize: pageSize})
			p := tea.NewProgram(tui.NewWithContext(cmd.Context(), view), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			return err
		},
	}
	cmd.Flags().IntVar(&pageSize, "page-size", client.DefaultPageSize, "tasks loaded per page")
	return cmd
}

// taskRow is the printable form of a task for json and yaml output.
type taskRow struct {
	ID           int64      `json:"id" yaml:"id"`
	Title        string     `json:"title" yaml:"title"`
	Description  string     `json:"description" yaml:"description"`
	Summary      *string    `json:"summary" yaml:"summary"`
	SummaryState string     `json:"summary_state" yaml:"summary_state"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at" yaml:"updated_at,omitempty"`
}

func toRows(tasks []model.Task) []taskRow {
	rows := make([]taskRow, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, taskRow{
			ID:           t.ID,
			Title:        t.Title,
			Description:  t.Description,
			Summary:      t.Summary,
			SummaryState: string(t.SummaryState),
			CreatedAt:    t.CreatedAt,
			UpdatedAt:    t.UpdatedAt,
		})
	}
	return rows
}

func newListCmd(newClient clientFactory) *cobra.Command {
	var (
		query  string
		page   int
		limit  int
		output string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := newClient().List(cmd.Context(), query, model.Page{Number: page, Size: limit})
			if err != nil {
				return fmt.Errorf("listing tasks: %w", err)
			}
			return printTasks(cmd.OutOrStdout(), output, tasks)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "case-insensitive search text")
	cmd.Flags().IntVar(&page, "page", 1, "page number, starting at 1")
	cmd.Flags().IntVar(&limit, "limit", client.DefaultPageSize, "tasks per page")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}

func printTasks(w io.Writer, format string, tasks []model.Task) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(toRows(tasks))
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toRows(tasks)); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		if len(tasks) == 0 {
			fmt.Fprintln(w, "No tasks found.")
			return nil
		}
		fmt.Fprintf(w, "%-6s %-30s %-16s %s\n", "ID", "TITLE", "UPDATED", "SUMMARY")
		for _, t := range tasks {
			updated := "-"
			if t.UpdatedAt != nil {
				updated = t.UpdatedAt.Local().Format("2006-01-02 15:04")
			}
			summary := client.Sanitize(t.SummaryText())
			if summary == "" {
				summary = client.AwaitingSummary
			}
			fmt.Fprintf(w, "%-6d %-30s %-16s %s\n", t.ID, truncate(client.Sanitize(t.Title), 30), updated, truncate(summary, 60))
		}
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newCreateCmd(newClient clientFactory) *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a task and generate its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(args[0])
			if title == "" {
				return fmt.Errorf("enter a title")
			}
			res, err := newClient().Create(cmd.Context(), title, description)
			if err != nil {
				return fmt.Errorf("creating task: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created task #%d\n", res.ID)
			if res.Summary != nil {
				fmt.Fprintf(out, "Summary: %s\n", client.Sanitize(*res.Summary))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	return cmd
}

func newEditCmd(newClient clientFactory) *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change a task's title or description and regenerate its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("title") && !cmd.Flags().Changed("description") {
				return fmt.Errorf("nothing to change: pass --title or --description")
			}

			c := newClient()
			current, err := c.Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("loading task #%d: %w", id, err)
			}
			if cmd.Flags().Changed("title") {
				current.Title = strings.TrimSpace(title)
			}
			if cmd.Flags().Changed("description") {
				current.Description = strings.TrimSpace(description)
			}

			if _, err := c.Edit(cmd.Context(), id, current.Title, current.Description); err != nil {
				return fmt.Errorf("updating task #%d: %w", id, err)
			}
			res, err := c.RefreshSummary(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("refreshing summary of task #%d: %w", id, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Task #%d updated\n", id)
			if res.Summary != nil {
				fmt.Fprintf(out, "Summary: %s\n", client.Sanitize(*res.Summary))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&title, "title", "t", "", "new title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "new description")
	return cmd
}

func newRefreshCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <id>",
		Short: "Regenerate a task's summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			res, err := newClient().RefreshSummary(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("refreshing summary of task #%d: %w", id, err)
			}
			summary := client.AwaitingSummary
			if res.Summary != nil {
				summary = client.Sanitize(*res.Summary)
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary)
			return nil
		},
	}
}

func newDeleteCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			err = newClient().Delete(cmd.Context(), id)
			switch {
			case client.IsNotFound(err):
				fmt.Fprintf(cmd.OutOrStdout(), "Task #%d already deleted\n", id)
				return nil
			case err != nil:
				return fmt.Errorf("deleting task #%d: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task #%d deleted\n", id)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskcli %s\ncommit: %s\n", version, commit)
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}
