// Package cli provides the command line interface of mxdeploy.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mxdeploy/internal/adapter"
	"mxdeploy/internal/config"
	"mxdeploy/internal/logger"
	"mxdeploy/internal/output"
)

// Config holds the global flags.
type Config struct {
	ProjectPath string
	LogLevel    string
	LogFile     string
	TestMode    bool
	Timeout     time.Duration
	Output      string
}

// App is the mxdeploy application. Adapters are kept per project directory
// for the lifetime of the App, so an interactive shell reuses connections.
type App struct {
	Config   Config
	Printer  *output.Printer
	Prompter config.CredentialPrompter

	out         io.Writer
	registry    *adapter.Registry
	interactive bool
	initialized bool
}

// NewApp creates the application. A nil factory creates adapters from the
// project file of each project directory.
func NewApp(factory adapter.Factory) *App {
	app := &App{out: os.Stdout}
	if factory == nil {
		factory = app.projectAdapter
	}
	app.registry = adapter.NewRegistry(factory)
	return app
}

// SetOutput redirects command output, mainly for tests.
func (app *App) SetOutput(w io.Writer) { app.out = w }

func (app *App) projectAdapter(dir string) (*adapter.Adapter, error) {
	p, err := config.LoadProject(dir, app.Config.TestMode)
	if err != nil {
		return nil, err
	}
	return p.NewAdapter(app.Prompter, app.Config.TestMode)
}

// CreateRootCommand creates and configures the root command.
func (app *App) CreateRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mxdeploy",
		Short: "Deploy configuration items to a PLM database",
		Long: `mxdeploy exports, updates, searches and compares the configuration items of a
project against its database. The connection is described by the project
file .mxdeploy.yaml in the project directory.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(*cobra.Command, []string) error { return app.initialize() },
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if app.interactive {
				return nil
			}
			return app.registry.DisconnectAll()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&app.Config.ProjectPath, "project", "p", ".", "Project directory, or any path inside it")
	flags.StringVar(&app.Config.LogLevel, "log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	flags.StringVar(&app.Config.LogFile, "log-file", "", "Write logs to file instead of stderr")
	flags.BoolVar(&app.Config.TestMode, "test-mode", false, "Run in deterministic test mode")
	flags.DurationVar(&app.Config.Timeout, "timeout", 0, "Abort a command after this duration (0 waits forever)")
	flags.StringVarP(&app.Config.Output, "output", "o", "auto", "Output format (auto|plain|color|json)")

	for _, name := range []string{"log-level", "log-file", "test-mode"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s flag: %v", name, err))
		}
	}

	app.addCommands(rootCmd)
	app.addShellCommand(rootCmd)
	app.addVersionCommand(rootCmd)
	return rootCmd
}

// initialize configures logging and output once per process.
func (app *App) initialize() error {
	if app.initialized {
		return nil
	}
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := logger.Configure(viper.GetString("log-level"), viper.GetString("log-file"), viper.GetBool("test-mode")); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	mode, ok := output.ParseMode(app.Config.Output)
	if !ok {
		return fmt.Errorf("unknown output format '%s'", app.Config.Output)
	}
	opts := []output.Option{output.WithWriter(app.out), output.WithMode(mode), output.WithStyles(output.NewLipglossStyles())}
	if app.Config.TestMode {
		opts = append(opts, output.TestMode())
	}
	app.Printer = output.NewPrinter(opts...)

	if app.Prompter == nil && !app.Config.TestMode {
		app.Prompter = config.NewTerminalPrompter()
	}
	app.initialized = true
	return nil
}

// adapterFor returns the adapter of the project containing path, or of the
// --project directory when path is empty.
func (app *App) adapterFor(path string) (*adapter.Adapter, error) {
	if path == "" {
		path = app.Config.ProjectPath
	}
	dir, err := config.ProjectDir(path)
	if err != nil {
		return nil, err
	}
	return app.registry.Get(dir)
}

// context bounds a command by --timeout.
func (app *App) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if app.Config.Timeout > 0 {
		return context.WithTimeout(ctx, app.Config.Timeout)
	}
	return context.WithCancel(ctx)
}
