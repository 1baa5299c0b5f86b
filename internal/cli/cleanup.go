package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/pipeline"
)

// cleanupCommand creates the command that removes bundler leftovers.
func (c *CLI) cleanupCommand() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the bundler manifest and unwrap the app container",
		Long: `Remove the .vite manifest directory from the build output and replace
every <div id="app"> wrapper in HTML files with its children.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := c.options(cmd, &flags)
			if err != nil {
				return err
			}
			prog := newProgress(c.Logger)
			res, err := c.newRunner().Cleanup(cmd.Context(), opts)
			if errors.Is(err, errors.ErrCodeOutputNotFound) {
				c.Logger.Warn("nothing to clean", "reason", errors.UserMessage(err))
				return nil
			}
			if err != nil {
				return err
			}

			for _, dir := range res.RemovedDirs {
				printFile(iconRemoved, dir)
			}
			if res.Unwrapped > 0 {
				printSuccess("Unwrapped %d documents", res.Unwrapped)
			} else {
				printInfo("No app wrapper found")
			}
			for _, f := range res.Failures {
				printError("%s", f.Error())
			}
			prog.done("Cleaned build output")
			return nil
		},
	}
	cmd.Flags().StringVarP(&flags.config, "config", "c", "", "config file (default: postbuild.toml/.yaml in the working directory)")
	cmd.Flags().StringVar(&flags.dist, "dist", pipeline.DefaultOutputDir, "build output directory")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "report changes without writing files")
	return cmd
}
