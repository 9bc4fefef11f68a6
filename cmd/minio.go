package cmd

import (
	"fmt"

	"StemForge/config"
	"StemForge/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理已发布的曲目对象，支持列出文件、查看统计信息、删除目录等功能。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !storage.Enabled(cfg.Minio) {
			return fmt.Errorf("%w: minio.endpoint is not set", config.ErrInvalidConfig)
		}
		ctx := cmd.Context()
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.Minio.Endpoint, cfg.Minio.Bucket)

		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return fmt.Errorf("创建MinIO客户端失败: %w", err)
		}

		prefix := minioPrefix
		if prefix == "" {
			prefix = cfg.Minio.Prefix
		}

		if minioDelete {
			if prefix == "" {
				return fmt.Errorf("删除操作需要指定目录前缀")
			}
			n, err := client.DeleteDirectory(ctx, prefix)
			if err != nil {
				return fmt.Errorf("删除目录失败: %w", err)
			}
			fmt.Printf("已删除 %d 个对象 (前缀: %s)\n", n, prefix)
			return nil
		}

		objects, stats, err := client.ListBucketObjects(ctx, prefix)
		if err != nil {
			return fmt.Errorf("列出文件失败: %w", err)
		}
		if !minioStats {
			for _, obj := range objects {
				fmt.Printf("%-60s %10s  %s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format("2006-01-02 15:04:05"))
			}
		}
		fmt.Printf("\n对象数: %d, 总大小: %s", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
		if stats.TotalObjects > 0 {
			fmt.Printf(", 最后修改: %s", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录，默认使用 minio.prefix")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出已发布的全部对象
  stemforge minio

  # 只看某个曲目
  stemforge minio -p "stemforge/Track00001/"

  # 显示统计信息
  stemforge minio -s

  # 删除目录及其下的所有文件
  stemforge minio -d -p "stemforge/Track00001/"`
}
