package local

import (
	"context"

	"github.com/gobeaver/filesync"
)

func init() {
	filesync.RegisterDriver(filesync.SchemeFile, func(ctx context.Context, u *filesync.StorageURL, cfg *filesync.Config) (filesync.FileSystem, error) {
		return New(u.Object)
	})
}
