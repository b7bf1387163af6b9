package commands

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/distex-rt/distex/pkg/options"
)

// NewOptionsCommand renders the node process's recognized configuration
// options (spec §6) as a table: flag, config key, type, default, and
// description, so an operator can see these values, which
// config.LoadConfig reads from the config file and environment, without
// having to read pkg/config. The listed flags are not registered on any
// command.
func NewOptionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List the configuration options this node process recognizes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := table.NewWriter()
			w.SetOutputMirror(os.Stdout)
			w.AppendHeader(table.Row{"Flag", "Config Key", "Type", "Default", "Description"})

			for _, opt := range options.Recognized() {
				w.AppendRow(table.Row{"--" + opt.Flag, opt.Name, opt.Type.String(), opt.FormatDefault(), opt.Description})
			}

			w.Render()

			return nil
		},
	}
}
