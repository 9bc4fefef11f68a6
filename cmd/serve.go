package cmd

import (
	"context"
	"time"

	"StemForge/cache"
	"StemForge/server"

	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve track metadata, mixtures and run progress over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openPipeline(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer p.Close()

		addr := cfg.ListenAddr
		if cmd.Flags().Changed("addr") {
			addr = serveAddr
		}

		// 运行进度只有在配置 Redis 时可用
		var hub *server.ProgressHub
		if cache.RedisClient != nil {
			client := cache.RedisClient
			hub = server.NewProgressHub(func(ctx context.Context, runID string) (map[string]int64, error) {
				return cache.NewProgressRecorder(client, runID).Snapshot(ctx)
			}, time.Second)
			go hub.Run(ctx)
		}

		h := server.NewTrackHandler(p.store, p.catalog)
		return server.Run(ctx, addr, server.NewRouter(h, hub))
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address, overrides listen_addr")
}
