package cli

import (
	"github.com/spf13/cobra"

	"mxdeploy/internal/version"
)

// addVersionCommand adds the version command
func (app *App) addVersionCommand(rootCmd *cobra.Command) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the version of mxdeploy with build information.`,
		Run: func(cmd *cobra.Command, _ []string) {
			detailed, _ := cmd.Flags().GetBool("detailed")
			if detailed {
				app.Printer.Println(version.GetDetailedVersion("mxdeploy"))
				return
			}
			app.Printer.Println(version.GetFormattedVersion("mxdeploy"))
		},
	}

	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
	rootCmd.AddCommand(versionCmd)
}
