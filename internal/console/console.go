// Package console is the operator's line-oriented driver for a running
// coordinator. It only talks to the public engine contract.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kabir325/fogpool/internal/engine"
	"github.com/kabir325/fogpool/internal/pool"
)

// Contract is the subset of the engine the console drives.
type Contract interface {
	SubmitQuery(ctx context.Context, req engine.QueryRequest) (engine.QueryResult, error)
	TriggerReassignment(ctx context.Context, reason pool.Reason) pool.Summary
	GetStats(ctx context.Context) engine.Stats
	Clients(ctx context.Context) []pool.ClientRecord
}

const help = `commands:
  <text>      send the text to every active client
  reassign    re-score clients and update assignments
  stats       show pool status
  clients     list clients
  help        show this help
  quit        stop the server
`

// Run reads commands from in until quit, end of input or ctx ends. Query
// output and errors go to out; a failed command never stops the loop.
func Run(ctx context.Context, in io.Reader, out io.Writer, c Contract) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprint(out, "fogpool console; type help for commands\n> ")
	for {
		var line string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		switch strings.ToLower(line) {
		case "":
		case "quit", "exit":
			fmt.Fprintln(out, "bye")
			return nil
		case "help":
			fmt.Fprint(out, help)
		case "stats":
			printStats(out, c.GetStats(ctx))
		case "clients":
			printClients(out, c.Clients(ctx))
		case "reassign":
			printSummary(out, c.TriggerReassignment(ctx, pool.ReasonManual))
		default:
			res, err := c.SubmitQuery(ctx, engine.QueryRequest{Prompt: line})
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			} else {
				printResult(out, res)
			}
		}
		fmt.Fprint(out, "> ")
	}
}

func printStats(out io.Writer, st engine.Stats) {
	fmt.Fprintf(out, "%s (%s)\n", st.Message, st.Status)
	for _, t := range pool.Tiers {
		if n := st.Tiers[t]; n > 0 {
			fmt.Fprintf(out, "  %-6s %d\n", t, n)
		}
	}
	if len(st.AvailableModels) > 0 {
		fmt.Fprintf(out, "  models: %s\n", strings.Join(st.AvailableModels, ", "))
	}
}

func printClients(out io.Writer, recs []pool.ClientRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(out, "no clients")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(out, "  %-24s %-12s %-6s %5.1f  %s\n", r.ID, r.State, r.Tier, r.Score, r.AssignedModel)
	}
}

func printSummary(out io.Writer, s pool.Summary) {
	fmt.Fprintf(out, "reassignment: %d evaluated, %d changed\n", s.Evaluated, s.Changed)
	for _, ch := range s.ChangedClients() {
		fmt.Fprintf(out, "  %s: %s/%s -> %s/%s\n", ch.ClientID, ch.Before.Tier, ch.Before.Model, ch.After.Tier, ch.After.Model)
	}
}

func printResult(out io.Writer, res engine.QueryResult) {
	fmt.Fprintf(out, "%d/%d clients answered\n", res.SuccessCount, res.ParticipatingCount)
	for _, o := range res.Outcomes {
		if o.ErrorDetail != "" {
			fmt.Fprintf(out, "  %s: %s (%s)\n", o.ClientID, o.Status, o.ErrorDetail)
		}
	}
	if res.CombinedAnswer != "" {
		fmt.Fprintln(out, res.CombinedAnswer)
	}
}
