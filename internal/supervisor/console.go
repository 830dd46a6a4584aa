package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/loykin/agentvisor/internal/agent"
)

var errExit = errors.New("exit requested")

const helpText = `Commands:
  status          show the state of every agent
  restart <name>  restart an agent now
  help            show this help
  exit            stop the supervisor
`

// readLines feeds the lines of r into a channel that is closed on EOF.
// A reader blocked in Read outlives ctx; stdin is only read once per process.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// Execute runs one console command and writes its answer to out. It returns
// errExit for "exit".
func (s *Supervisor) Execute(ctx context.Context, line string, out io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch strings.ToLower(fields[0]) {
	case "status":
		obs, err := s.Inspector.ObserveAll(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(out, "status failed: %v\n", err)
			return nil
		}
		if len(obs) == 0 {
			_, _ = fmt.Fprintln(out, "no agents defined")
		}
		for _, o := range obs {
			_, _ = fmt.Fprintf(out, "%s -> %s\n", o.Agent, o.State)
		}
	case "restart":
		if len(fields) != 2 {
			_, _ = fmt.Fprintln(out, "usage: restart <name>")
			return nil
		}
		pid, err := s.Restart(ctx, fields[1])
		switch {
		case errors.Is(err, agent.ErrNotFound):
			_, _ = fmt.Fprintf(out, "Agent not found: %s\n", fields[1])
		case err != nil:
			_, _ = fmt.Fprintf(out, "restart %s failed: %v\n", fields[1], err)
		default:
			_, _ = fmt.Fprintf(out, "Agent restarted: %s (pid %d)\n", fields[1], pid)
		}
	case "exit", "quit":
		return errExit
	case "help":
		_, _ = io.WriteString(out, helpText)
	default:
		_, _ = fmt.Fprintf(out, "unknown command %q\n", fields[0])
		_, _ = io.WriteString(out, helpText)
	}
	return nil
}
