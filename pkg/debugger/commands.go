package debugger

import (
	"fmt"
	"sort"

	"github.com/siftlabs/sift/pkg/runtime"
	"github.com/siftlabs/sift/pkg/schema"
)

// handleCommand interprets one REPL line. done is false when the command
// only inspected state and the prompt should repeat.
func (d *Debugger) handleCommand(line string, step schema.Step) (runtime.Decision, bool) {
	switch line {
	case "":
		return 0, false
	case "next", "n":
		return runtime.DecisionRun, true
	case "continue", "c":
		d.auto = true
		return runtime.DecisionRun, true
	case "skip", "s":
		fmt.Fprintf(d.output, "Skipping %s and its sub-tree.\n", step.ID)
		return runtime.DecisionSkip, true
	case "params", "p":
		d.printParams()
		return 0, false
	case "results", "r":
		d.printResults()
		return 0, false
	case "help", "?":
		d.printHelp()
		return 0, false
	case "quit", "q":
		fmt.Fprintf(d.output, "Aborting run.\n")
		return runtime.DecisionAbort, true
	default:
		fmt.Fprintf(d.output, "Unknown command: %q. Type 'help' for available commands.\n", line)
		return 0, false
	}
}

// printParams dumps the visible execution context, inner scopes included.
func (d *Debugger) printParams() {
	env := d.engine.Params().Env()
	if len(env) == 0 {
		fmt.Fprintf(d.output, "No parameters in scope.\n")
		return
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(d.output, "  %s = %v\n", name, env[name])
	}
}

// printResults lists the results recorded so far.
func (d *Debugger) printResults() {
	results := d.engine.Results()
	if len(results) == 0 {
		fmt.Fprintf(d.output, "No results yet.\n")
		return
	}
	for _, r := range results {
		fmt.Fprintf(d.output, "  [%s] %s %s: %s\n", r.Outcome, r.StepID, r.Resource, r.Detail.Reason)
	}
}

func (d *Debugger) printHelp() {
	fmt.Fprint(d.output, `Commands:
  next, n      execute the upcoming step
  continue, c  run to the end without pausing
  skip, s      skip the upcoming step and its sub-tree
  params, p    show the parameters in scope
  results, r   show the results recorded so far
  quit, q      abort the run
`)
}
