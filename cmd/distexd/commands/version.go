package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/distex-rt/distex/pkg/version"
)

// NewVersionCommand prints the build version information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
