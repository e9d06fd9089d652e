// Package cli provides the command line interface of mxdispatch.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mxdeploy/internal/dispatcher"
	"mxdeploy/internal/logger"
	"mxdeploy/internal/version"
)

// EnvPrefix prefixes the environment form of every flag: --root ->
// MXDISPATCH_ROOT.
const EnvPrefix = "MXDISPATCH"

// App is the mxdispatch application bound to its standard streams.
type App struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	v *viper.Viper
}

// NewApp creates the application.
func NewApp(in io.Reader, out, errOut io.Writer) *App {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return &App{in: in, out: out, errOut: errOut, v: v}
}

// CreateRootCommand creates and configures the root command.
func (app *App) CreateRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mxdispatch",
		Short: "Dispatcher peer for mxdeploy",
		Long: `mxdispatch answers mxdeploy requests against a catalog directory. Standard
error is part of the protocol, so logs only go to --log-file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return app.configureLogger()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("root", ".", "Catalog directory to serve")
	flags.String("log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	flags.String("log-file", "", "Write logs to this file; logs are discarded without it")
	flags.Bool("test-mode", false, "Run in deterministic test mode")
	for _, name := range []string{"root", "log-level", "log-file", "test-mode"} {
		if err := app.v.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s flag: %v", name, err))
		}
	}

	app.addServeCommand(rootCmd)
	app.addConsoleCommand(rootCmd)
	app.addVersionCommand(rootCmd)
	return rootCmd
}

func (app *App) configureLogger() error {
	logFile := app.v.GetString("log-file")
	if logFile == "" {
		logger.SetOutput(io.Discard)
		return nil
	}
	return logger.Configure(app.v.GetString("log-level"), logFile, app.v.GetBool("test-mode"))
}

func (app *App) backend() dispatcher.Backend {
	return dispatcher.NewFileBackend(app.v.GetString("root"))
}

// addServeCommand adds the framed helper process mode.
func (app *App) addServeCommand(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve framed requests on standard input and output",
		Long: `Serve length-prefixed requests on standard input until "exit" or end of
input. When --user is set, connecting the catalog also logs that user in.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b := dispatcher.WithLogin(app.backend(), app.v.GetString("user"), app.v.GetString("password"))
			logger.Info("Serving", "root", app.v.GetString("root"), "version", version.Version)
			return dispatcher.NewServer(dispatcher.New(b), app.in, app.out, app.errOut).Serve(cmd.Context())
		},
	}
	serveCmd.Flags().String("user", "", "Session user checked on connect")
	serveCmd.Flags().String("password", "", "Session password checked on connect")
	for _, name := range []string{"user", "password"} {
		if err := app.v.BindPFlag(name, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s flag: %v", name, err))
		}
	}
	rootCmd.AddCommand(serveCmd)
}

// addConsoleCommand adds the console mode driven by the line transport.
func (app *App) addConsoleCommand(rootCmd *cobra.Command) {
	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Run the line oriented command console",
		Long: `Read console statements from standard input. Sessions start with
"set context user <name> password <secret>;" and run dispatcher operations
with "exec prog".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger.Info("Console started", "root", app.v.GetString("root"))
			d := dispatcher.New(app.backend())
			return dispatcher.NewConsole(d, app.in, app.out, app.errOut).Serve(cmd.Context())
		},
	}
	rootCmd.AddCommand(consoleCmd)
}

// addVersionCommand adds the version command
func (app *App) addVersionCommand(rootCmd *cobra.Command) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Fprintln(app.out, version.GetDetailedVersion("mxdispatch"))
				return
			}
			fmt.Fprintln(app.out, version.GetFormattedVersion("mxdispatch"))
		},
	}
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
	rootCmd.AddCommand(versionCmd)
}
