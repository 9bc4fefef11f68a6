package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"StemForge/config"
	"StemForge/core/intake"
	"StemForge/logger"

	"github.com/spf13/cobra"
)

var (
	watchSettle  time.Duration
	watchInitial bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Process MIDI files as they arrive in the corpus directory",
	Long: `Watches the corpus directory tree and runs split, render and mix for every
batch of new MIDI files. New tracks are numbered after the ones already in the
output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.CorpusDir == "" {
			return fmt.Errorf("%w: watch requires corpus_dir", config.ErrInvalidConfig)
		}
		ctx := cmd.Context()
		p, err := openPipeline(ctx, cfg, true)
		if err != nil {
			return err
		}
		defer p.Close()

		// 先注册监听，避免初始处理期间到达的文件丢失
		w, err := intake.NewWatcher(cfg.CorpusDir, watchSettle)
		if err != nil {
			return err
		}
		existing, err := p.corpus()
		if err != nil {
			return err
		}
		if watchInitial {
			if err := p.runAll(ctx, 0, existing); err != nil {
				return err
			}
		}
		w.MarkSeen(existing...)

		logger.Info("Watching corpus", logger.String("root", cfg.CorpusDir), logger.Duration("settle", watchSettle))
		err = w.Run(ctx, func(ctx context.Context, paths []string) error {
			// 新到达的文件全部处理，不受 max_num_files 限制
			return p.runAll(ctx, len(paths), paths)
		})
		if errors.Is(err, context.Canceled) {
			logger.Info("Watch stopped")
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().DurationVar(&watchSettle, "settle", 2*time.Second, "how long a file must stay unchanged before it is processed")
	watchCmd.Flags().BoolVar(&watchInitial, "initial", true, "process the files already in the corpus before watching")
}
