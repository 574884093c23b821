package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/siftlabs/sift/pkg/catalog"
	"github.com/siftlabs/sift/pkg/debugger"
	"github.com/siftlabs/sift/pkg/report"
	"github.com/siftlabs/sift/pkg/rules"
	"github.com/siftlabs/sift/pkg/runtime"
	"github.com/siftlabs/sift/pkg/schema"
	"github.com/siftlabs/sift/pkg/snapshot"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

var log = logrus.New()

func main() {
	// .env is gitignored; values already in the environment win.
	_ = godotenv.Load()

	log.SetLevel(logrus.WarnLevel)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "sift",
	Short: "Runbook-driven cloud diagnostics",
	Long:  "sift — executes diagnostic runbooks and lint rules against snapshots of a cloud environment's resource and log state.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	runCmd.Flags().StringVar(&runProject, "project", "", "project to diagnose (shorthand for --param project=...)")
	runCmd.Flags().StringArrayVar(&runParams, "param", nil, "runbook parameter as key=value (repeatable)")
	runCmd.Flags().StringVar(&runFixtures, "fixtures", "", "directory of recorded snapshot fixtures to replay")
	runCmd.Flags().BoolVar(&runPretty, "pretty", false, "render the report as markdown through glamour")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the raw report as JSON")
	runCmd.Flags().BoolVar(&runDebug, "debug", false, "step through the runbook interactively")
	runCmd.Flags().BoolVar(&runNoArtifacts, "no-artifacts", false, "do not write the trace and manifest under .sift/runs")

	lintCmd.Flags().StringVar(&runProject, "project", "", "project to lint")
	lintCmd.Flags().StringVar(&runFixtures, "fixtures", "", "directory of recorded snapshot fixtures to replay")
	lintCmd.Flags().StringArrayVar(&lintProducts, "product", nil, "only run rules for this product (repeatable)")

	rootCmd.AddCommand(runCmd, listCmd, describeCmd, validateCmd, lintCmd, schemaCmd, versionCmd)
}

// --- run ---

var (
	runProject     string
	runParams      []string
	runFixtures    string
	runPretty      bool
	runJSON        bool
	runDebug       bool
	runNoArtifacts bool
)

var runCmd = &cobra.Command{
	Use:   "run [product/name]",
	Short: "Run a diagnostic runbook and print the report",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	registry, err := catalog.NewRegistry(log)
	if err != nil {
		return err
	}
	rb, err := registry.Get(args[0])
	if err != nil {
		return err
	}

	values, err := parseParams(runParams)
	if err != nil {
		return err
	}
	if runProject != "" {
		values["project"] = runProject
	}

	provider, err := buildProvider(runFixtures)
	if err != nil {
		return err
	}

	opts := runtime.Options{
		Mode:         "replay",
		ArtifactsDir: ".sift/runs",
		Log:          log,
	}
	if runNoArtifacts {
		opts.ArtifactsDir = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rep *report.Report
	if runDebug {
		dbg, err := debugger.New(rb, provider, values, opts)
		if err != nil {
			return err
		}
		rep, err = dbg.Run(ctx)
		if err != nil {
			return err
		}
	} else {
		eng, err := runtime.NewEngine(rb, provider, values, opts)
		if err != nil {
			return err
		}
		rep = eng.Run(ctx)
		if opts.ArtifactsDir != "" {
			fmt.Fprintf(os.Stderr, "Artifacts: %s\n", eng.BaseDir())
		}
	}

	if err := printReport(rep); err != nil {
		return err
	}
	if rep.Status == report.Failed {
		os.Exit(2)
	}
	return nil
}

// buildProvider assembles the provider chain: replayed fixtures behind
// retry and an LRU snapshot cache, same shape a live client would get.
func buildProvider(fixtures string) (snapshot.Provider, error) {
	if fixtures == "" {
		return nil, fmt.Errorf("--fixtures is required: point it at a directory of recorded snapshots")
	}
	scenario, err := snapshot.LoadScenario(fixtures)
	if err != nil {
		return nil, fmt.Errorf("load fixtures: %w", err)
	}
	var provider snapshot.Provider = snapshot.NewReplayProvider(scenario)
	provider = snapshot.NewRetryProvider(provider, 3, 500*time.Millisecond, log)
	return snapshot.NewCacheProvider(provider, 128, log)
}

func parseParams(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", p)
		}
		values[k] = v
	}
	return values, nil
}

func printReport(rep *report.Report) error {
	switch {
	case runJSON:
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case runPretty:
		md := report.RenderMarkdown(rep)
		out, err := glamour.Render(md, "dark")
		if err != nil {
			return err
		}
		fmt.Print(out)
	default:
		fmt.Print(report.RenderTerminal(rep))
	}
	return nil
}

// --- list ---

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the runbooks in the catalogue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := catalog.NewRegistry(log)
		if err != nil {
			return err
		}
		for _, rb := range registry.All() {
			desc := strings.TrimSpace(rb.Meta.Description)
			if i := strings.IndexByte(desc, '\n'); i > 0 {
				desc = desc[:i]
			}
			fmt.Printf("  %-28s %s\n", rb.Meta.FullName(), desc)
		}
		return nil
	},
}

// --- describe ---

var describeCmd = &cobra.Command{
	Use:   "describe [product/name]",
	Short: "Show a runbook's parameters and steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := catalog.NewRegistry(log)
		if err != nil {
			return err
		}
		rb, err := registry.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s\n\n%s\n\nParameters:\n", rb.Meta.FullName(), strings.TrimSpace(rb.Meta.Description))
		for name, def := range rb.Meta.Params {
			req := ""
			if def.Required {
				req = " (required)"
			}
			fmt.Printf("  %-16s %-10s%s %s\n", name, def.Type, req, def.Description)
		}
		fmt.Printf("\nSteps:\n")
		printTree(rb.Tree, 1)
		return nil
	},
}

func printTree(nodes []schema.StepNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, node := range nodes {
		title := node.Step.Title
		if title == "" {
			title = node.Step.Kind
		}
		fmt.Printf("%s%s [%s]\n", indent, title, node.Step.ID)
		for _, branch := range node.Branches {
			label := branch.Label
			if label == "" {
				label = branch.When
			}
			fmt.Printf("%s  ⌥ %s\n", indent, label)
			printTree(branch.Steps, depth+2)
		}
		printTree(node.Steps, depth+1)
	}
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [runbook.yaml]",
	Short: "Validate a runbook YAML file against the schema",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	rb, errs := schema.ValidateFile(args[0])

	var errors, warnings []*schema.ValidationError
	for _, e := range errs {
		if e.Severity == "warning" {
			warnings = append(warnings, e)
		} else {
			errors = append(errors, e)
		}
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", w.Phase, w.Message)
		if w.Path != "" {
			fmt.Fprintf(os.Stderr, "    at: %s\n", w.Path)
		}
	}
	if len(errors) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(errors))
		for i, e := range errors {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(errors))
	}

	fmt.Printf("✓ %s is valid (%d top-level steps)\n", rb.Meta.FullName(), len(rb.Tree))
	return nil
}

// --- lint ---

var lintProducts []string

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Run the lint-rule corpus against a project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if runProject == "" {
			return fmt.Errorf("--project is required")
		}
		provider, err := buildProvider(runFixtures)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rep := rules.NewRunner(provider, log).Run(ctx, runProject, rules.All(lintProducts...))
		fmt.Print(report.RenderTerminal(rep))
		if rep.Status == report.Failed {
			os.Exit(2)
		}
		return nil
	},
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export the runbook document JSON Schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sift %s (%s)\n", version, commit)
	},
}
