package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/oscquery/internal/version"
)

func newVersionCommand() *cobra.Command {
	var printVersion bool
	var printSemver bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the oscquery version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printVersion && printSemver {
				return fmt.Errorf("--version and --semver are mutually exclusive")
			}
			out := cmd.OutOrStdout()
			switch {
			case printVersion:
				_, err := fmt.Fprintln(out, version.Current())
				return err
			case printSemver:
				_, err := fmt.Fprintln(out, version.CurrentSemver())
				return err
			}
			_, err := fmt.Fprintf(out, "%s %s\n", version.Module(), version.Current())
			return err
		},
	}
	cmd.Flags().BoolVar(&printVersion, "version", false, "print only the version")
	cmd.Flags().BoolVar(&printSemver, "semver", false, "print only the semantic version core (major.minor.patch)")
	return cmd
}
