package cmd

import (
	"context"

	"StemForge/logger"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Split, render and mix in one pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openPipeline(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer p.Close()

		paths, err := p.corpus()
		if err != nil {
			return err
		}
		return p.runAll(ctx, 0, paths)
	},
}

// runAll splits paths, renders the resulting jobs and mixes the rendered tracks.
// A positive maxFiles overrides max_num_files.
func (p *pipeline) runAll(ctx context.Context, maxFiles int, paths []string) error {
	s, err := p.newSplitter()
	if err != nil {
		return err
	}
	if maxFiles > 0 {
		s.Opts.MaxFiles = maxFiles
	}
	manifest, err := p.split(ctx, s, paths)
	if err != nil {
		return err
	}
	if manifest.Len() == 0 {
		logger.Info("Nothing to render")
		return nil
	}
	dirs, err := p.render(ctx, manifest)
	if err != nil {
		return err
	}
	return p.mix(ctx, dirs)
}

func init() {
	rootCmd.AddCommand(runCmd)
}
