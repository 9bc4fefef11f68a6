package cmd

import (
	"github.com/spf13/cobra"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split accepted MIDI files into per-instrument stems",
	Long: `Scans the corpus in seeded random order, rejects files that do not meet the
selection rules, and writes one track directory per accepted file with the
source MIDI, one MIDI file per instrument and metadata.yaml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openPipeline(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer p.Close()

		s, err := p.newSplitter()
		if err != nil {
			return err
		}
		paths, err := p.corpus()
		if err != nil {
			return err
		}
		_, err = p.split(ctx, s, paths)
		return err
	},
}

func init() {
	rootCmd.AddCommand(splitCmd)
}
