// Command authframed is a sample host that wires the core's Server
// behind net/http, backed by the in-process store/memory reference
// backend. It exists to exercise the host-adapter seam end to end, not
// as a production deployment — grounded on the teacher's cmd/dex
// command layout (a cobra root with a "serve" subcommand) narrowed to
// this core's own dependency set.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func commandRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "authframed",
		Short: "Run an authframe authorization server",
	}
	root.AddCommand(commandServe())
	return root
}

func main() {
	if err := commandRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
}
