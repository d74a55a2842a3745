// Command atomicupdated drives one participant (Primary or Secondary) of
// the atomic multi-ECU update protocol over the reference multicast bus.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uplo-tech/atomicupdate/build"
)

// exit codes, inspired by sysexits.h.
const (
	exitCodeGeneral = 1
	exitCodeUsage   = 64
)

func die(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(exitCodeGeneral)
}

func versionCmd(*cobra.Command, []string) {
	fmt.Println("atomicupdated v" + build.Version)
}

func main() {
	root := &cobra.Command{
		Use:   os.Args[0],
		Short: "atomic multi-ECU update coordinator",
		Long:  "atomicupdated drives a Primary or Secondary participant of the atomic commit update protocol",
	}
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run:   versionCmd,
	})
	root.AddCommand(primaryCmd())
	root.AddCommand(secondaryCmd())

	if err := root.Execute(); err != nil {
		die(err)
	}
}
