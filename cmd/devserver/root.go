package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"devserver/pkg/contracts"
)

// newRootCmd builds the command tree
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "devserver",
		Short: "devserver serves build output during development",
		Long: `devserver hosts a web application's build output while you work on it.
It proxies API calls to a backend, rewrites client-side routes to the index
page and tells connected browsers when a new build is ready.

Configuration can be provided via flags, environment variables (DEVSERVER_*)
or a configuration file. By default devserver looks for devserver.yaml in the
working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), contracts.Version)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), contracts.GetFullVersionString())
			return nil
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
