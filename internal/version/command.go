package version

import (
	"fmt"

	"github.com/spf13/cobra"
)

// AttachCobraVersionCommand attaches a `version` subcommand to root.
func AttachCobraVersionCommand(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Long:  "Print the version, commit and build date injected at build time, plus the host this instance runs on.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			info := GetInfo()
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), info.String())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "host: %s\n", info.Hostname)
		},
	})
}
