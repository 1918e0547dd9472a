package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/totalracingleague26/Dave-bot/internal/api"
	"github.com/totalracingleague26/Dave-bot/internal/archive"
	"github.com/totalracingleague26/Dave-bot/internal/config"
	"github.com/totalracingleague26/Dave-bot/internal/logbuf"
	"github.com/totalracingleague26/Dave-bot/pkg/protocol"
)

func healthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Status      string `json:"status"`
				OpenTickets int    `json:"open_tickets"`
			}
			if err := c.get("/api/health", &body); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  open tickets: %d\n", color.New(color.FgGreen).Sprint(body.Status), body.OpenTickets)
			return nil
		},
	}
}

func ticketsCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Inspect and close live tickets",
	}

	var ticketType, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List open tickets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if ticketType != "" {
				q.Set("type", ticketType)
			}
			if status != "" {
				q.Set("status", status)
			}
			var views []api.TicketView
			if err := c.get("/api/tickets"+encode(q), &views); err != nil {
				return err
			}
			printTickets(cmd.OutOrStdout(), views)
			return nil
		},
	}
	list.Flags().StringVar(&ticketType, "type", "", "Filter by type (General|Incident|Report|Feedback)")
	list.Flags().StringVar(&status, "status", "", "Filter by status (open|claimed)")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show ticket details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var view api.TicketView
			if err := c.get("/api/tickets/"+url.PathEscape(args[0]), &view); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}

	var actor string
	closeCmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a ticket (summarises, archives and deletes its channel)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]string
			if err := c.post("/api/tickets/"+url.PathEscape(args[0])+"/close", map[string]string{"actor": actor}, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ticket %s %s\n", args[0], color.New(color.FgGreen).Sprint("closed"))
			if w := resp["warning"]; w != "" {
				fmt.Fprintf(out, "%s %s\n", color.New(color.FgYellow).Sprint("warning:"), w)
			}
			return nil
		},
	}
	closeCmd.Flags().StringVar(&actor, "actor", "davectl", "Actor recorded as closer")

	cmd.AddCommand(list, show, closeCmd)
	return cmd
}

func archiveCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Browse closed ticket summaries",
	}

	var ticketType, reason, owner, query string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List archived tickets, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"type": ticketType, "reason": reason, "owner": owner, "q": query} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			var entries []archive.Entry
			if err := c.get("/api/archive"+encode(q), &entries); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%-20s %-9s %-8s %-24s %s\n",
					e.TicketID, e.Type, e.Reason, e.ChannelName, e.ClosedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}
	list.Flags().StringVar(&ticketType, "type", "", "Filter by ticket type")
	list.Flags().StringVar(&reason, "reason", "", "Filter by close reason (manual|timeout)")
	list.Flags().StringVar(&owner, "owner", "", "Filter by owner user ID")
	list.Flags().StringVarP(&query, "query", "q", "", "Search summaries and channel names")
	list.Flags().IntVar(&limit, "limit", 50, "Max results")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show an archived ticket with its summary and transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e archive.Entry
			if err := c.get("/api/archive/"+url.PathEscape(args[0]), &e); err != nil {
				return err
			}
			printEntry(cmd.OutOrStdout(), &e)
			return nil
		},
	}

	cmd.AddCommand(list, show)
	return cmd
}

func logsCmd(c *client) *cobra.Command {
	var ticketID, component, level, query string
	var limit int
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show recent daemon log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			for k, v := range map[string]string{"ticket": ticketID, "component": component, "level": level, "q": query} {
				if v != "" {
					q.Set(k, v)
				}
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			if since > 0 {
				q.Set("since", strconv.FormatInt(time.Now().Add(-since).UnixMilli(), 10))
			}
			var entries []logbuf.Entry
			if err := c.get("/api/logs"+encode(q), &entries); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				fmt.Fprintf(out, "%s %s %s", e.Time.Local().Format("15:04:05.000"), levelColor(e.Level), e.Message)
				for k, v := range e.Attrs {
					fmt.Fprintf(out, " %s=%v", k, v)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ticketID, "ticket", "", "Only entries for this ticket")
	cmd.Flags().StringVar(&component, "component", "", "Only entries from this component")
	cmd.Flags().StringVar(&level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Substring match on message")
	cmd.Flags().IntVar(&limit, "limit", 100, "Max entries")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this (e.g. 15m)")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a daved config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(args[0]); err != nil {
				return fmt.Errorf("invalid: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgGreen).Sprint("config is valid"))
			return nil
		},
	})
	return cmd
}

// --- Output helpers ---

func printTickets(out io.Writer, views []api.TicketView) {
	for _, v := range views {
		remaining := "-"
		if v.Deadline != nil {
			remaining = (time.Duration(v.RemainingSeconds) * time.Second).String()
		}
		claimed := v.ClaimedBy
		if claimed == "" {
			claimed = "-"
		}
		fmt.Fprintf(out, "%-20s %-9s %-8s %-20s %-10s %s\n",
			v.ID, v.Type, statusColor(v.Status), claimed, remaining, v.ChannelName)
	}
}

func printEntry(out io.Writer, e *archive.Entry) {
	bold := color.New(color.Bold)
	bold.Fprintf(out, "%s (%s)\n", e.ChannelName, e.Type)
	fmt.Fprintf(out, "  ticket:  %s\n", e.TicketID)
	fmt.Fprintf(out, "  owner:   %s %s\n", e.OwnerUserID, e.OwnerName)
	if e.ClaimedBy != "" {
		fmt.Fprintf(out, "  claimed: %s\n", e.ClaimedBy)
	}
	fmt.Fprintf(out, "  closed:  %s (%s)\n", e.ClosedAt.Local().Format(time.DateTime), e.Reason)
	fmt.Fprintln(out)
	bold.Fprintln(out, "Summary")
	fmt.Fprintln(out, e.Summary)
	if len(e.Messages) == 0 {
		return
	}
	fmt.Fprintln(out)
	bold.Fprintln(out, "Transcript")
	for _, m := range e.Messages {
		fmt.Fprintf(out, "  [%s] %s: %s\n", m.Timestamp.Local().Format("15:04"), m.AuthorName, m.Content)
	}
}

func statusColor(s protocol.TicketStatus) string {
	switch s {
	case protocol.TicketOpen:
		return color.New(color.FgGreen).Sprintf("%-8s", s)
	case protocol.TicketClaimed:
		return color.New(color.FgYellow).Sprintf("%-8s", s)
	default:
		return fmt.Sprintf("%-8s", s)
	}
}

func levelColor(level string) string {
	switch level {
	case "ERROR":
		return color.New(color.FgRed).Sprintf("%-5s", level)
	case "WARN":
		return color.New(color.FgYellow).Sprintf("%-5s", level)
	case "DEBUG":
		return color.New(color.FgHiBlack).Sprintf("%-5s", level)
	default:
		return fmt.Sprintf("%-5s", level)
	}
}

func printJSON(out io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func encode(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}
