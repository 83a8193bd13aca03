package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"librarian/config"
)

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	cmd.AddCommand(a.configInitCommand(), a.configShowCommand())
	return cmd
}

func (a *app) configInitCommand() *cobra.Command {
	var (
		path  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = config.GlobalPath(a.env)
			}
			if path == "" {
				return fmt.Errorf("cannot locate a config directory; pass --path")
			}
			if err := config.WriteFile(path, config.Default(a.env), force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "file to write (default: the global config location)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func (a *app) configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), struct {
					config.Config
					Sources config.Sources `json:"sources"`
				}{cfg, cfg.Sources})
			}
			w := cmd.OutOrStdout()
			for _, src := range []struct{ name, path string }{
				{"global", cfg.Sources.Global},
				{"explicit", cfg.Sources.Explicit},
			} {
				if src.path != "" {
					fmt.Fprintf(w, "// loaded %s config: %s\n", src.name, src.path)
				}
			}
			fmt.Fprint(w, config.Render(cfg))
			return nil
		},
	}
}
