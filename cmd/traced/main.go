// Command traced runs the traceability engine: the HTTP API, one-off traces
// and stock queries, cache reconciliation, archive exports, graph projection
// and fixture seeding.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version  = "dev"
	exitFunc = os.Exit
)

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "traced: %v\n", err)
		return 1
	}
	return 0
}

type rootOptions struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "traced",
		Short: "FSMA 204 traceability reconstruction engine",
		Long: `traced reconstructs lot genealogy and stock from critical tracking
events. Configuration comes from --config, TRACECORE_* environment variables
and built-in defaults.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")

	root.AddCommand(
		newServeCmd(opts),
		newTraceCmd(opts),
		newStockCmd(opts),
		newReconcileCmd(opts),
		newArchiveCmd(opts),
		newProjectCmd(opts),
		newSeedCmd(opts),
	)
	return root
}
