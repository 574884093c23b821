// Package debugger implements the interactive step-through debugger for
// runbook runs. It pauses the interpreter before every step and lets the
// operator inspect the execution context and results collected so far.
package debugger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/runtime"
	"github.com/siftlabs/sift/pkg/schema"
	"github.com/siftlabs/sift/pkg/snapshot"
)

// Debugger wraps an engine with a readline REPL hooked into BeforeStep.
type Debugger struct {
	runbook *schema.Runbook
	engine  *runtime.Engine
	output  io.Writer
	rl      *readline.Instance
	auto    bool
}

// New creates a debugger-wrapped engine. The BeforeStep hook in opts is
// overridden; everything else passes through to the engine.
func New(rb *schema.Runbook, provider snapshot.Provider, values map[string]string, opts runtime.Options) (*Debugger, error) {
	d := &Debugger{
		runbook: rb,
		output:  os.Stdout,
	}
	opts.BeforeStep = d.pause

	eng, err := runtime.NewEngine(rb, provider, values, opts)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	d.engine = eng
	return d, nil
}

// Engine returns the underlying engine.
func (d *Debugger) Engine() *runtime.Engine { return d.engine }

// Run starts the REPL-driven run and returns the finalized report.
func (d *Debugger) Run(ctx context.Context) (*report.Report, error) {
	completer := readline.NewPrefixCompleter()
	for _, cmd := range []string{"next", "continue", "skip", "params", "results", "help", "quit"} {
		completer.Children = append(completer.Children, readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sift> ",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return nil, fmt.Errorf("init readline: %w", err)
	}
	d.rl = rl
	defer rl.Close()

	fmt.Fprintf(d.output, "sift debugger — %s, run %s\n", d.runbook.Meta.FullName(), d.engine.RunID())
	fmt.Fprintf(d.output, "Type 'help' for available commands, 'next' to execute the next step.\n\n")

	rep := d.engine.Run(ctx)

	fmt.Fprintf(d.output, "\nRun finished: %s (%d results)\n", strings.ToUpper(string(rep.Status)), len(rep.Results))
	return rep, nil
}

// pause is the BeforeStep hook: it prompts until the operator picks a
// verdict for the upcoming step.
func (d *Debugger) pause(step schema.Step) runtime.Decision {
	if d.auto || d.rl == nil {
		return runtime.DecisionRun
	}

	title := step.Title
	if title == "" {
		title = step.Kind
	}
	fmt.Fprintf(d.output, "→ %s [%s]\n", title, step.ID)
	d.rl.SetPrompt(fmt.Sprintf("sift[%s]> ", step.ID))

	for {
		line, err := d.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return runtime.DecisionAbort
			}
			fmt.Fprintf(d.output, "Error: %v\n", err)
			return runtime.DecisionAbort
		}
		if decision, done := d.handleCommand(strings.TrimSpace(line), step); done {
			return decision
		}
	}
}
