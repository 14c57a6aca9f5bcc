package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "threadline",
		Short:        "Bridge between the async job broker and the conversation store",
		Version:      version,
		SilenceUsage: true,
	}

	root.AddCommand(newServeCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
