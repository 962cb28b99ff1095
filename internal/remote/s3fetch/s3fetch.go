// Package s3fetch is the S3-variant remote-source fetcher, grounded on
// grailbio-reflow's blob/s3blob use of aws-sdk-go's session/s3manager
// pair rather than hand-rolling multipart GET ranges.
package s3fetch

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/dom/ingest-pipeline/internal/remote"
)

type Fetcher struct {
	region          string
	accessKeyID     string
	secretAccessKey string
}

func New(region, accessKeyID, secretAccessKey string) *Fetcher {
	return &Fetcher{region: region, accessKeyID: accessKeyID, secretAccessKey: secretAccessKey}
}

func (f *Fetcher) Fetch(ctx context.Context, cfg *remote.SourceConfig, destPath string) (int64, error) {
	region := cfg.S3Region
	if region == "" {
		region = f.region
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return 0, fmt.Errorf("create aws session: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	downloader := s3manager.NewDownloader(sess)
	written, err := downloader.DownloadWithContext(ctx, out, &s3.GetObjectInput{
		Bucket: aws.String(cfg.S3Bucket),
		Key:    aws.String(cfg.S3Key),
	})
	if err != nil {
		return 0, fmt.Errorf("download s3://%s/%s: %w", cfg.S3Bucket, cfg.S3Key, err)
	}
	return written, nil
}
