package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/voxcollect/internal/backup"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy recordings and metadata to S3 once",
	RunE: func(cmd *cobra.Command, args []string) error {
		if bucket, _ := cmd.Flags().GetString("bucket"); bucket != "" {
			cfg.Backup.Bucket = bucket
		}

		b, err := backup.NewS3(cfg)
		if err != nil {
			return err
		}

		n, err := b.Once(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Uploaded %d files to s3://%s/%s\n", n, cfg.Backup.Bucket, cfg.Backup.Prefix)
		return nil
	},
}

func init() {
	backupCmd.Flags().String("bucket", "", "S3 bucket (overrides backup.bucket)")
}
