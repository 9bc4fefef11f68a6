package cmd

import (
	"StemForge/logger"

	"github.com/spf13/cobra"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render stem MIDI files through the plugin engine",
	Long: `Rebuilds the work manifest from the track directories in the output
directory and renders every stem whose audio is missing, grouped by patch so
each plugin is loaded once per bucket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openPipeline(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer p.Close()

		manifest, err := p.manifestFromDisk()
		if err != nil {
			return err
		}
		dirs, err := p.render(ctx, manifest)
		if err != nil {
			return err
		}
		logger.Info("Render finished", logger.Int("tracks", len(dirs)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(renderCmd)
}
