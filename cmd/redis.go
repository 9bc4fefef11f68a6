package cmd

import (
	"fmt"
	"sort"

	"StemForge/cache"
	"StemForge/config"

	"github.com/spf13/cobra"
)

var redisRunID string

var redisCmd = &cobra.Command{
	Use:   "redis",
	Short: "Redis连接测试",
	Long:  `测试Redis连接是否成功，并进行基本读写操作。指定 --run 时打印该次运行的进度计数。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cache.Enabled(cfg.Redis) {
			return fmt.Errorf("%w: redis.host is not set", config.ErrInvalidConfig)
		}
		fmt.Printf("Redis配置: %s:%s, DB: %d\n", cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.DB)

		if err := cache.ConnectRedis(cfg.Redis); err != nil {
			return fmt.Errorf("无法连接到Redis: %w", err)
		}
		defer cache.CloseRedis()
		fmt.Println("Redis连接成功！")

		if err := cache.TestRedis(); err != nil {
			return fmt.Errorf("Redis操作测试失败: %w", err)
		}
		fmt.Println("Redis基本操作测试成功！")

		if redisRunID == "" {
			return nil
		}
		counters, err := cache.NewProgressRecorder(cache.RedisClient, redisRunID).Snapshot(cmd.Context())
		if err != nil {
			return err
		}
		if len(counters) == 0 {
			fmt.Printf("运行 %s 没有进度记录\n", redisRunID)
			return nil
		}
		fields := make([]string, 0, len(counters))
		for f := range counters {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			fmt.Printf("  %-16s %d\n", f, counters[f])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(redisCmd)
	redisCmd.Flags().StringVar(&redisRunID, "run", "", "print the progress counters of this run id")
}
