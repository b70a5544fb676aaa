package gcs

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/gobeaver/filesync"
	"google.golang.org/api/option"
)

func init() {
	filesync.RegisterDriver(filesync.SchemeGCS, func(ctx context.Context, u *filesync.StorageURL, cfg *filesync.Config) (filesync.FileSystem, error) {
		var opts []option.ClientOption
		if cfg != nil && cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
		}
		if cfg != nil && cfg.GCSEndpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.GCSEndpoint))
		}

		// Without options the client uses GOOGLE_APPLICATION_CREDENTIALS or
		// default credentials.
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return nil, err
		}

		return New(client, u.Bucket), nil
	})
}
