package main

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	v1 "github.com/tjfontaine/agent-router/internal/api/v1"
	"github.com/tjfontaine/agent-router/internal/core/domain"
)

func newAskCommand(opts *clientOptions) *cobra.Command {
	var (
		maxIterations int
		useWebSocket  bool
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Start a run and stream its iterations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(opts)
			ctx := cmd.Context()

			req := v1.CreateRunRequest{Question: strings.Join(args, " ")}
			if cmd.Flags().Changed("max-iterations") {
				req.MaxIterations = &maxIterations
			}

			var created v1.CreateRunResponse
			if err := c.do(ctx, "POST", "/runs", req, &created); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "run %s\n", created.ID)

			printer := &eventPrinter{out: cmd.OutOrStdout(), raw: opts.raw}
			stream := c.streamSSE
			if useWebSocket {
				stream = c.streamWebSocket
			}
			if err := stream(ctx, created.ID, printer.print); err != nil {
				return err
			}
			if printer.failed {
				return fmt.Errorf("run %s failed", created.ID)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 0, "iteration limit (server default when unset)")
	cmd.Flags().BoolVar(&useWebSocket, "ws", false, "stream over websocket instead of SSE")
	return cmd
}

func newTraceCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <id>",
		Short: "Show the trace of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.RouterProcess
			if err := newClient(opts).do(cmd.Context(), "GET", "/runs/"+url.PathEscape(args[0]), nil, &p); err != nil {
				return err
			}
			if opts.raw {
				return printJSON(cmd.OutOrStdout(), p)
			}
			printProcess(cmd.OutOrStdout(), &p, "")
			return nil
		},
	}
}

func newTracesCommand(opts *clientOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "traces",
		Short: "List stored traces, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out v1.ListTracesResponse
			path := fmt.Sprintf("/traces?limit=%d&offset=%d", limit, offset)
			if err := newClient(opts).do(cmd.Context(), "GET", path, nil, &out); err != nil {
				return err
			}
			if opts.raw {
				return printJSON(cmd.OutOrStdout(), out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tITERATIONS\tCREATED\tQUESTION")
			for _, s := range out.Data {
				fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%s\n",
					s.ContextID, s.Status, s.IterationCount, s.MaxIterations,
					s.CreatedAt.Format("2006-01-02 15:04:05"), truncate(s.Question, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newToolsCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List discovered tools and configured agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out v1.ListToolsResponse
			if err := newClient(opts).do(cmd.Context(), "GET", "/tools", nil, &out); err != nil {
				return err
			}
			if opts.raw {
				return printJSON(cmd.OutOrStdout(), out)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tNAME\tDESCRIPTION")
			for _, t := range out.Tools {
				fmt.Fprintf(w, "tool\t%s\t%s\n", t.Name, truncate(t.Description, 70))
			}
			for _, a := range out.Agents {
				fmt.Fprintf(w, "agent\t%s\t%s\n", a.Name, truncate(a.Description, 70))
			}
			return w.Flush()
		},
	}
}

func newCancelCommand(opts *clientOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out v1.CancelRunResponse
			if err := newClient(opts).do(cmd.Context(), "POST", "/runs/"+url.PathEscape(args[0])+"/cancel", nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", out.ID, out.Status)
			return nil
		},
	}
}

// eventPrinter renders stream events as they arrive.
type eventPrinter struct {
	out    io.Writer
	raw    bool
	failed bool
}

func (p *eventPrinter) print(ev rawEvent) error {
	if ev.Type == domain.EventError {
		p.failed = true
	}
	if p.raw {
		return printJSON(p.out, ev)
	}

	switch ev.Type {
	case domain.EventConnected:
		return nil
	case domain.EventIterationUpdate:
		var it domain.RouterIteration
		if err := json.Unmarshal(ev.Data, &it); err != nil {
			return fmt.Errorf("decode iteration: %w", err)
		}
		printIteration(p.out, it, "")
	case domain.EventFinalResponse:
		var proc domain.RouterProcess
		if err := json.Unmarshal(ev.Data, &proc); err != nil {
			return fmt.Errorf("decode final response: %w", err)
		}
		fmt.Fprintf(p.out, "\n[%s] %s\n", proc.Status, proc.Response)
		if proc.PersistenceDegraded {
			fmt.Fprintln(p.out, "warning: trace was not persisted")
		}
	case domain.EventError:
		var data domain.ErrorEventData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("decode error event: %w", err)
		}
		fmt.Fprintf(p.out, "\nerror (%s): %s\n", data.Type, data.Message)
	}
	return nil
}

func printProcess(w io.Writer, p *domain.RouterProcess, indent string) {
	fmt.Fprintf(w, "%s%s [%s] %s\n", indent, p.ContextID, p.Status, p.Question)
	for _, it := range p.IterationHistory {
		printIteration(w, it, indent+"  ")
	}
	switch {
	case p.Response != "":
		fmt.Fprintf(w, "%s=> %s\n", indent, p.Response)
	case p.Error != "":
		fmt.Fprintf(w, "%s!! %s: %s\n", indent, p.ErrorType, p.Error)
	}
}

func printIteration(w io.Writer, it domain.RouterIteration, indent string) {
	fmt.Fprintf(w, "%s#%d %s\n", indent, it.Iteration, it.NaturalLanguageThought)
	for _, call := range it.StructuredThought.FunctionCalls {
		args, _ := json.MarshalToString(call.Args)
		marker := "->"
		if call.Error {
			marker = "!!"
		}
		fmt.Fprintf(w, "%s  %s %s(%s) %s\n", indent, marker, call.Function, args, truncate(call.Result, 120))
		if call.InternalRouterProcess != nil {
			printProcess(w, call.InternalRouterProcess, indent+"    ")
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
