package cmd

import (
	"github.com/spf13/cobra"
)

var mixCmd = &cobra.Command{
	Use:   "mix",
	Short: "Loudness-normalize rendered stems and write the mixture",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openPipeline(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer p.Close()

		dirs, err := p.store.List()
		if err != nil {
			return err
		}
		return p.mix(ctx, dirs)
	},
}

func init() {
	rootCmd.AddCommand(mixCmd)
}
