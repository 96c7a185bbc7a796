package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCmd prints the build version.
func NewVersionCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the feedrun version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feedrun %s\n", version)
		},
	}
}
