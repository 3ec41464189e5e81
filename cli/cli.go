// Package cli wires the pipeline stages to go-flags subcommands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Run     *RunCommand
	Extract *ExtractCommand
	Load    *LoadCommand
	Analyze *AnalyzeCommand
	Chart   *ChartCommand
	Report  *ReportCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(out io.Writer) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	// errors are returned, not printed; main logs them once
	parser := goflags.NewParser(&globals, goflags.HelpFlag|goflags.PassDoubleDash)
	parser.Name = "seoetl"
	parser.LongDescription = "Extract website analytics from saved SimilarWeb snapshots, load them into " +
		"an embedded SQL store and report month-over-month changes and a relative ranking."

	cmds := &commands{
		Run:     &RunCommand{globals: &globals, out: out},
		Extract: &ExtractCommand{globals: &globals, out: out},
		Load:    &LoadCommand{globals: &globals, out: out},
		Analyze: &AnalyzeCommand{globals: &globals, out: out},
		Chart:   &ChartCommand{globals: &globals, out: out},
		Report:  &ReportCommand{globals: &globals, out: out},
	}

	parser.AddCommand("run", "Run the whole pipeline", "Extract, transform, load, analyze, chart and report in one go.", cmds.Run)
	parser.AddCommand("extract", "Extract snapshots into the CSV", "Extract every snapshot, normalize the values and write the interchange CSV.", cmds.Extract)
	parser.AddCommand("load", "Load the CSV into the store", "Replace the store contents with the CSV and (re)create the analysis views.", cmds.Load)
	parser.AddCommand("analyze", "Print the analysis", "Print month-over-month changes and the relative ranking from the store.", cmds.Analyze)
	parser.AddCommand("chart", "Render charts", "Render the analysis charts from the store.", cmds.Chart)
	parser.AddCommand("report", "Write the HTML report", "Write the HTML report from the store, optionally with a PNG snapshot.", cmds.Report)

	return parser, &globals, cmds
}

// Run is the main entry point for the CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil, os.Stdout)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the
// matched subcommand, writing reports to out.
func RunWithArgs(version string, args []string, out io.Writer) error {
	// go-flags requires a subcommand; --version is valid without one
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Fprintf(out, "seoetl %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(out)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	if err != nil {
		if flagsErr, ok := err.(*goflags.Error); ok {
			if flagsErr.Type == goflags.ErrHelp {
				fmt.Fprintln(out, flagsErr.Message)
				return nil
			}
		}
		return err
	}

	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
