package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/repoagents/internal/agentdef"
	"github.com/steveyegge/repoagents/internal/compiler"
	"github.com/steveyegge/repoagents/internal/types"
	"github.com/steveyegge/repoagents/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:     "validate [file...]",
	GroupID: "author",
	Short:   "Check agent definitions without compiling",
	Long: `Parse and validate definition files and report every problem found.

With no arguments the whole agents directory is checked as a set, which
also catches duplicate names and colliding identifiers. Warnings are
printed but only errors fail the command.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		var rep validateReport
		if len(args) > 0 {
			rep = validateFiles(args)
		} else {
			rep = validateDir(ctx, agentsDir)
		}

		if jsonOutput {
			outputJSON(rep)
		} else {
			printDiagnostics(rep.Diagnostics)
			if !rep.Diagnostics.HasErrors() {
				fmt.Printf("%s %d definition(s) valid\n", ui.RenderPassIcon(), rep.Valid)
			}
		}
		if rep.Diagnostics.HasErrors() {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

type validateReport struct {
	Valid       int               `json:"valid"`
	Invalid     int               `json:"invalid"`
	Diagnostics types.Diagnostics `json:"diagnostics"`
}

func validateDir(ctx context.Context, dir string) validateReport {
	d := agentdef.Discover(ctx, dir)
	rep := validateReport{Diagnostics: d.AllDiagnostics(), Invalid: len(d.Invalid())}
	defs := d.Definitions()
	rep.Valid = len(defs)
	for _, diag := range compiler.CheckSet(defs) {
		if diag.Kind == types.KindCompile {
			rep.Diagnostics = append(rep.Diagnostics, diag)
		}
	}
	if rep.Diagnostics == nil {
		rep.Diagnostics = types.Diagnostics{}
	}
	return rep
}

func validateFiles(paths []string) validateReport {
	rep := validateReport{Diagnostics: types.Diagnostics{}}
	for _, p := range paths {
		data, err := os.ReadFile(p) //nolint:gosec // paths named on the command line
		if err != nil {
			rep.Invalid++
			rep.Diagnostics = append(rep.Diagnostics, types.Diagnostic{
				Path: p, Severity: types.SeverityError, Kind: types.KindDiscovery, Message: err.Error(),
			})
			continue
		}
		def, diags := agentdef.ParseAndValidate(p, data)
		rep.Diagnostics = append(rep.Diagnostics, diags...)
		if def == nil {
			rep.Invalid++
		} else {
			rep.Valid++
		}
	}
	return rep
}

// printDiagnostics writes errors then warnings to stderr, annotating each
// definition file when running in a workflow.
func printDiagnostics(diags types.Diagnostics) {
	for _, d := range diags.Errors() {
		fmt.Fprintf(errOut, "%s %s\n", ui.RenderFailIcon(), d)
		annotateDiagnostic(d)
	}
	for _, d := range diags.Warnings() {
		fmt.Fprintf(errOut, "%s %s\n", ui.RenderWarnIcon(), d)
		annotateDiagnostic(d)
	}
}
