package sftp

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/gobeaver/filesync"
)

func init() {
	filesync.RegisterDriver(filesync.SchemeSFTP, func(ctx context.Context, u *filesync.StorageURL, cfg *filesync.Config) (filesync.FileSystem, error) {
		if cfg == nil {
			cfg = &filesync.Config{}
		}

		host, port := u.Bucket, cfg.SFTPPort
		if h, p, err := net.SplitHostPort(u.Bucket); err == nil {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid SFTP port %q", p)
			}
			host, port = h, n
		}

		sftpConfig := Config{
			Host:     host,
			Port:     port,
			Username: cfg.SFTPUsername,
			Password: cfg.SFTPPassword,
		}

		// Load private key if specified
		if cfg.SFTPPrivateKey != "" {
			keyData, err := os.ReadFile(cfg.SFTPPrivateKey)
			if err != nil {
				return nil, fmt.Errorf("failed to read private key: %w", err)
			}
			sftpConfig.PrivateKey = keyData
		}

		return New(sftpConfig)
	})
}
