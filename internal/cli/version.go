package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tharpep/knowledge-base/internal/storage"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and storage build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if a.flags.jsonOutput {
				return printJSON(out, map[string]interface{}{
					"version":          a.version,
					"build_mode":       storage.BuildMode,
					"driver":           storage.DriverName,
					"vector_extension": storage.VectorExtensionAvailable,
				})
			}
			fmt.Fprintf(out, "knowledge-base %s\n", a.version)
			fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
			fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
			fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
			return nil
		},
	}
}
