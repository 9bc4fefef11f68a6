package cmd

import (
	"errors"
	"fmt"

	"StemForge/config"
	"StemForge/logger"
	"StemForge/storage"

	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload normalized tracks to MinIO",
	Long: `Uploads metadata.yaml, the mixture, the stems and the stem MIDI files of
every normalized track. Objects already stored with the same size are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !storage.Enabled(cfg.Minio) {
			return fmt.Errorf("%w: publish requires minio.endpoint", config.ErrInvalidConfig)
		}
		ctx := cmd.Context()
		p, err := openPipeline(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer p.Close()

		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return err
		}
		if err := client.EnsureBucket(ctx); err != nil {
			return err
		}
		dirs, err := p.store.List()
		if err != nil {
			return err
		}

		pub := &storage.Publisher{Store: client, Prefix: cfg.Minio.Prefix}
		var total storage.PublishStats
		for _, dir := range dirs {
			if err := ctx.Err(); err != nil {
				return err
			}
			rec, err := p.store.Load(dir)
			if err != nil {
				return err
			}
			stats, err := pub.Publish(ctx, rec)
			if errors.Is(err, storage.ErrNotNormalized) {
				logger.Debug("Skipping track without mixture", logger.String("track", dir))
				continue
			}
			if err != nil {
				return err
			}
			total.Uploaded += stats.Uploaded
			total.Skipped += stats.Skipped
		}

		logger.Info("Publish finished",
			logger.String("bucket", client.Bucket()),
			logger.Int("uploaded", total.Uploaded),
			logger.Int("skipped", total.Skipped))
		fmt.Printf("Uploaded %d objects, %d already present\n", total.Uploaded, total.Skipped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
