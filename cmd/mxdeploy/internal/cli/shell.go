package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/abiosoft/ishell/v2"
	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/shell"

	"mxdeploy/internal/logger"
	"mxdeploy/internal/transport"
	"mxdeploy/internal/version"
)

// addShellCommand adds the interactive shell. Connections opened in the
// shell stay open until it exits.
func (app *App) addShellCommand(rootCmd *cobra.Command) {
	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Long: `Start an interactive session on the project. mxdeploy commands can be
entered without the program name; any other line is executed as a database
command. Connections are kept between lines.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app.interactive = true
			defer func() { app.interactive = false }()

			sh := ishell.New()
			sh.SetPrompt("mxdeploy> ")
			sh.DeleteCmd("help")
			sh.Println(version.GetFormattedVersion("mxdeploy") + " - type 'help' for commands, 'exit' to quit.")
			sh.NotFound(func(c *ishell.Context) {
				if err := app.runShellArgs(c.Args); err != nil {
					c.Err(err)
				}
			})
			sh.Run()
			sh.Close()
			return app.registry.DisconnectAll()
		},
	}
	rootCmd.AddCommand(shellCmd)
}

// RunLine runs one shell line. A line naming an mxdeploy command runs it
// without the global flags, which keep the values the shell was started
// with; any other line goes to Execute.
func (app *App) RunLine(line string) error {
	args, err := shell.Fields(line, nil)
	if err != nil {
		return fmt.Errorf("invalid command line: %w", err)
	}
	return app.runArgs(args, line)
}

// runShellArgs runs words already split by the interactive shell.
func (app *App) runShellArgs(words []string) error {
	return app.runArgs(words, commandLine(words))
}

// runArgs runs the split shell line args; line is what Execute receives
// when args do not name an mxdeploy command.
func (app *App) runArgs(args []string, line string) error {
	if len(args) == 0 {
		return nil
	}
	logger.Debug("Shell command", "args", args)

	lineCmd := &cobra.Command{
		Use:               "mxdeploy",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(*cobra.Command, []string) error { return app.initialize() },
	}
	lineCmd.SetOut(app.out)
	lineCmd.SetErr(app.out)
	app.addCommands(lineCmd)
	app.addVersionCommand(lineCmd)
	lineCmd.InitDefaultHelpCmd()

	if sub, _, err := lineCmd.Find(args); err != nil || sub == lineCmd {
		return app.executeLine(line)
	}
	lineCmd.SetArgs(args)
	return lineCmd.Execute()
}

// commandLine joins words split by the shell back into a console line,
// double-quoting the words that would not survive the join.
func commandLine(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		if w == "" || strings.ContainsAny(w, " \t\r\n\"';\\") {
			w = `"` + transport.EscapeMQL(w) + `"`
		}
		quoted[i] = w
	}
	return strings.Join(quoted, " ")
}

func (app *App) executeLine(line string) error {
	if err := app.initialize(); err != nil {
		return err
	}
	a, err := app.adapterFor("")
	if err != nil {
		return err
	}
	ctx := context.Background()
	if app.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.Config.Timeout)
		defer cancel()
	}

	out, err := a.Execute(ctx, line)
	if err != nil {
		return err
	}
	app.Printer.Println(out)
	return nil
}
