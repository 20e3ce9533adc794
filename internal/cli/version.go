package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/picnic-sensors/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.Get()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "picnic-sensors %s\ncommit: %s\nbuilt: %s\ngo: %s\n",
				info.Version, info.Commit, info.Date, runtime.Version())
			return err
		},
	}
}
