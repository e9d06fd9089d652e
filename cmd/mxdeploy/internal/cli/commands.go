package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mxdeploy/internal/adapter"
	"mxdeploy/internal/config"
)

// addCommands adds the project commands. They are shared by the root
// command and the interactive shell.
func (app *App) addCommands(rootCmd *cobra.Command) {
	connectCmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to the database of the project",
		Long: `Open the connection described by the project file, check the dispatcher
version and refresh the stored plug-in properties.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			a, err := app.adapterFor("")
			if err != nil {
				return err
			}
			if err := a.Connect(ctx); err != nil {
				return err
			}
			app.printStatus(a)
			return nil
		},
	}

	disconnectCmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Close the connection of the project",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := app.adapterFor("")
			if err != nil {
				return err
			}
			return a.Disconnect()
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the connection state of every known project",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := app.adapterFor(""); err != nil {
				return err
			}
			for _, project := range app.registry.Projects() {
				a, err := app.registry.Get(project)
				if err != nil {
					return err
				}
				app.printStatus(a)
			}
			return nil
		},
	}

	var outFile string
	exportCmd := &cobra.Command{
		Use:   "export <type> <name>",
		Short: "Print the update code of a configuration item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			a, err := app.adapterFor("")
			if err != nil {
				return err
			}
			it, err := a.ExportItem(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			if outFile == "" {
				app.Printer.Print(it.Content)
				return nil
			}
			if err := os.WriteFile(outFile, []byte(it.Content), 0o644); err != nil {
				return err
			}
			app.Printer.Success(fmt.Sprintf("exported %s '%s' to %s", it.TypeDef, it.Name, outFile))
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&outFile, "file", "f", "", "Write the code to this file instead of stdout")

	pullCmd := &cobra.Command{
		Use:   "pull <file>...",
		Short: "Overwrite local files with the code from the database",
		Long: `For every local file, export the configuration item it describes and write
the exported code back to the file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			var errs []error
			for _, path := range args {
				a, err := app.adapterFor(path)
				if err != nil {
					return err
				}
				it, err := a.ExportFile(ctx, path)
				if err == nil {
					err = os.WriteFile(path, []byte(it.Content), 0o644)
				}
				if err != nil {
					app.Printer.Error(fmt.Sprintf("%s: %v", path, err))
					errs = append(errs, err)
					continue
				}
				app.Printer.Success(fmt.Sprintf("%s '%s' -> %s", it.TypeDef, it.Name, path))
			}
			return failures("pull", len(errs), len(args))
		},
	}

	var compile bool
	updateCmd := &cobra.Command{
		Use:   "update <file>...",
		Short: "Update the database from local files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			groups, err := app.groupByProject(args)
			if err != nil {
				return err
			}
			failed := 0
			for _, g := range groups {
				report, err := g.adapter.Update(ctx, g.files, compile)
				if err != nil {
					return err
				}
				failed += app.printReport(report)
			}
			return failures("update", failed, len(args))
		},
	}
	updateCmd.Flags().BoolVarP(&compile, "compile", "c", false, "Compile updated programs")

	var match string
	searchCmd := &cobra.Command{
		Use:   "search <type>...",
		Short: "Find configuration items by type and name pattern",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			a, err := app.adapterFor("")
			if err != nil {
				return err
			}
			items, err := a.Search(ctx, args, match)
			if err != nil {
				return err
			}
			for _, it := range items {
				app.Printer.Item(it.TypeDef, it.Name, it.FilePath)
			}
			return nil
		},
	}
	searchCmd.Flags().StringVarP(&match, "match", "m", "*", "Name pattern")

	executeCmd := &cobra.Command{
		Use:   "execute <command>...",
		Short: "Run a database command and print its output",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			a, err := app.adapterFor("")
			if err != nil {
				return err
			}
			out, err := a.Execute(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			app.Printer.Println(out)
			return nil
		},
	}

	compareCmd := &cobra.Command{
		Use:   "compare <file>...",
		Short: "Diff local files against the database",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			var errs []error
			for _, path := range args {
				a, err := app.adapterFor(path)
				if err != nil {
					return err
				}
				cmp, err := a.Compare(ctx, path)
				if err != nil {
					app.Printer.Error(fmt.Sprintf("%s: %v", path, err))
					errs = append(errs, err)
					continue
				}
				if cmp.Equal() {
					app.Printer.Success(fmt.Sprintf("%s is up to date", path))
					continue
				}
				app.Printer.Diff(cmp.Unified())
			}
			return failures("compare", len(errs), len(args))
		},
	}

	typeDefsCmd := &cobra.Command{
		Use:   "typedefs",
		Short: "Show the tree of supported type definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := app.context(cmd)
			defer cancel()
			a, err := app.adapterFor("")
			if err != nil {
				return err
			}
			root, err := a.TypeDefTree(ctx)
			if err != nil {
				return err
			}
			if app.Printer.IsJSON() {
				app.Printer.Record("typedefs", root)
				return nil
			}
			app.printTree(root, 0)
			return nil
		},
	}

	modesCmd := &cobra.Command{
		Use:   "modes",
		Short: "List the connection modes and their project keys",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			for _, m := range config.Modes() {
				app.Printer.Header(fmt.Sprintf("%s: %s", m.Name, m.Title))
				for _, k := range m.Keys {
					line := fmt.Sprintf("  %-40s %s", k.Name, k.Usage)
					if k.Default != nil {
						line += fmt.Sprintf(" [default: %v]", k.Default)
					}
					app.Printer.Println(line)
				}
			}
		},
	}

	rootCmd.AddCommand(connectCmd, disconnectCmd, statusCmd, exportCmd, pullCmd,
		updateCmd, searchCmd, executeCmd, compareCmd, typeDefsCmd, modesCmd)
}

func (app *App) printStatus(a *adapter.Adapter) {
	line := fmt.Sprintf("%s: %s", a.Project(), a.State())
	if a.State() == adapter.Connected {
		line += fmt.Sprintf(" (session %s, dispatcher %s)", a.SessionID(), a.ServerVersion())
	}
	if app.Printer.IsJSON() {
		app.Printer.Record("status", map[string]string{
			"project": a.Project(),
			"state":   a.State().String(),
			"session": a.SessionID(),
			"server":  a.ServerVersion(),
		})
		return
	}
	app.Printer.Info(line)
}

// printReport prints an update report and returns the number of failures.
func (app *App) printReport(r *adapter.UpdateReport) int {
	for _, path := range r.Updated {
		app.Printer.Success("updated " + path)
	}
	for _, path := range sortedKeys(r.Failed) {
		app.Printer.Error(fmt.Sprintf("%s: %s", path, r.Failed[path]))
	}
	unreadable := make([]string, 0, len(r.Unreadable))
	for path := range r.Unreadable {
		unreadable = append(unreadable, path)
	}
	sort.Strings(unreadable)
	for _, path := range unreadable {
		app.Printer.Warning(fmt.Sprintf("%s: not sent: %v", path, r.Unreadable[path]))
	}
	return len(r.Failed) + len(r.Unreadable)
}

func (app *App) printTree(n *adapter.TypeDefNode, depth int) {
	line := strings.Repeat("  ", depth) + n.Label
	if len(n.TypeDefs) > 0 {
		line += " (" + strings.Join(n.TypeDefs, ", ") + ")"
	}
	app.Printer.Println(line)
	for _, c := range n.Children {
		app.printTree(c, depth+1)
	}
}

type projectFiles struct {
	adapter *adapter.Adapter
	files   []string
}

// groupByProject splits files by the project they belong to, keeping the
// order of first appearance.
func (app *App) groupByProject(paths []string) ([]*projectFiles, error) {
	var groups []*projectFiles
	byAdapter := map[*adapter.Adapter]*projectFiles{}
	for _, path := range paths {
		a, err := app.adapterFor(path)
		if err != nil {
			return nil, err
		}
		g, ok := byAdapter[a]
		if !ok {
			g = &projectFiles{adapter: a}
			byAdapter[a] = g
			groups = append(groups, g)
		}
		g.files = append(g.files, path)
	}
	return groups, nil
}

func failures(op string, failed, total int) error {
	if failed == 0 {
		return nil
	}
	return fmt.Errorf("%s: %d of %d files failed", op, failed, total)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
