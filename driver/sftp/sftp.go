package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/gobeaver/filesync"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Adapter provides an SFTP implementation of filesync.FileSystem. Paths
// are relative to BasePath ("/" when empty) and use "/" separators.
type Adapter struct {
	mu       sync.Mutex
	client   *sftp.Client
	sshConn  *ssh.Client
	basePath string
	config   Config
}

// Config holds SFTP connection configuration
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	PrivateKey []byte // PEM encoded private key
	BasePath   string

	// HostKeyCallback verifies the server key. Nil accepts any key.
	HostKeyCallback ssh.HostKeyCallback
}

// New creates a new SFTP filesystem adapter and connects to the server
func New(cfg Config) (*Adapter, error) {
	adapter := &Adapter{
		config:   cfg,
		basePath: cfg.BasePath,
	}
	if adapter.basePath == "" {
		adapter.basePath = "/"
	}

	if err := adapter.connect(); err != nil {
		return nil, err
	}

	return adapter, nil
}

// connect establishes SSH and SFTP connections
func (a *Adapter) connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	hostKeyCallback := a.config.HostKeyCallback
	if hostKeyCallback == nil {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	sshConfig := &ssh.ClientConfig{
		User:            a.config.Username,
		HostKeyCallback: hostKeyCallback,
	}

	if len(a.config.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(a.config.PrivateKey)
		if err != nil {
			return fmt.Errorf("failed to parse private key: %w", err)
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}

	if a.config.Password != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(a.config.Password))
	}

	if len(sshConfig.Auth) == 0 {
		return fmt.Errorf("no authentication method provided")
	}

	port := a.config.Port
	if port == 0 {
		port = 22
	}

	addr := fmt.Sprintf("%s:%d", a.config.Host, port)
	sshConn, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SSH: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}

	a.sshConn = sshConn
	a.client = sftpClient

	return nil
}

// Close closes the SFTP and SSH connections
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error

	if a.client != nil {
		if err := a.client.Close(); err != nil {
			errs = append(errs, err)
		}
		a.client = nil
	}

	if a.sshConn != nil {
		if err := a.sshConn.Close(); err != nil {
			errs = append(errs, err)
		}
		a.sshConn = nil
	}

	return errors.Join(errs...)
}

// conn returns a live client, reconnecting when the session dropped
func (a *Adapter) conn() (*sftp.Client, error) {
	a.mu.Lock()
	client := a.client
	a.mu.Unlock()

	if client != nil {
		if _, err := client.Getwd(); err == nil {
			return client, nil
		}
		a.Close()
	}

	if err := a.connect(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.client, nil
}

// fullPath returns the full path combining base path and relative path
func (a *Adapter) fullPath(relativePath string) string {
	return path.Join(a.basePath, path.Clean("/"+relativePath))
}

// relPath is the inverse of fullPath
func (a *Adapter) relPath(fullPath string) string {
	base := strings.TrimSuffix(a.basePath, "/") + "/"
	return strings.TrimPrefix(fullPath, base)
}

// Write implements filesync.FileWriter
func (a *Adapter) Write(ctx context.Context, filePath string, content io.Reader, options ...filesync.Option) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	client, err := a.conn()
	if err != nil {
		return &filesync.PathError{Op: "write", Path: filePath, Err: err}
	}

	fullPath := a.fullPath(filePath)

	if err := client.MkdirAll(path.Dir(fullPath)); err != nil {
		return mapSFTPError("write", filePath, err)
	}

	file, err := client.Create(fullPath)
	if err != nil {
		return mapSFTPError("write", filePath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, content); err != nil {
		return mapSFTPError("write", filePath, err)
	}

	return nil
}

// Read implements filesync.FileReader
func (a *Adapter) Read(ctx context.Context, filePath string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	client, err := a.conn()
	if err != nil {
		return nil, &filesync.PathError{Op: "read", Path: filePath, Err: err}
	}

	file, err := client.Open(a.fullPath(filePath))
	if err != nil {
		return nil, mapSFTPError("read", filePath, err)
	}

	return file, nil
}

// Delete implements filesync.FileWriter
func (a *Adapter) Delete(ctx context.Context, filePath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	client, err := a.conn()
	if err != nil {
		return &filesync.PathError{Op: "delete", Path: filePath, Err: err}
	}

	if err := client.Remove(a.fullPath(filePath)); err != nil {
		return mapSFTPError("delete", filePath, err)
	}

	return nil
}

// DirExists implements filesync.FileReader
func (a *Adapter) DirExists(ctx context.Context, dirPath string) (bool, error) {
	client, err := a.conn()
	if err != nil {
		return false, &filesync.PathError{Op: "direxists", Path: dirPath, Err: err}
	}

	info, err := client.Stat(a.fullPath(dirPath))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, mapSFTPError("direxists", dirPath, err)
	}

	return info.IsDir(), nil
}

// Stat implements filesync.FileReader
func (a *Adapter) Stat(ctx context.Context, filePath string) (*filesync.ObjectInfo, error) {
	client, err := a.conn()
	if err != nil {
		return nil, &filesync.PathError{Op: "stat", Path: filePath, Err: err}
	}

	info, err := client.Stat(a.fullPath(filePath))
	if err != nil {
		return nil, mapSFTPError("stat", filePath, err)
	}

	return &filesync.ObjectInfo{
		Path:        filePath,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		IsDir:       info.IsDir(),
		ContentType: filesync.DetectContentType(filePath),
	}, nil
}

// List implements filesync.FileReader
func (a *Adapter) List(ctx context.Context, prefix string, recursive bool, fn filesync.ListFunc) error {
	client, err := a.conn()
	if err != nil {
		return &filesync.PathError{Op: "list", Path: prefix, Err: err}
	}

	root := a.fullPath(prefix)

	if !recursive {
		entries, err := client.ReadDir(root)
		if err != nil {
			return mapSFTPError("list", prefix, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() && !entry.Mode().IsRegular() {
				continue
			}
			obj := filesync.ObjectInfo{
				Path:    a.relPath(path.Join(root, entry.Name())),
				Size:    entry.Size(),
				ModTime: entry.ModTime(),
				IsDir:   entry.IsDir(),
			}
			if err := fn(obj); err != nil {
				return err
			}
		}
		return nil
	}

	walker := client.Walk(root)
	for walker.Step() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := walker.Err(); err != nil {
			if os.IsNotExist(err) && walker.Path() != root {
				continue
			}
			return mapSFTPError("list", prefix, err)
		}

		info := walker.Stat()
		if info.IsDir() || !info.Mode().IsRegular() {
			continue
		}

		obj := filesync.ObjectInfo{
			Path:    a.relPath(walker.Path()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if err := fn(obj); err != nil {
			return err
		}
	}

	return nil
}

// mapSFTPError maps SFTP errors to filesync errors
func mapSFTPError(op, path string, err error) error {
	if os.IsNotExist(err) {
		return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrNotExist}
	}

	if os.IsPermission(err) {
		return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrPermission}
	}

	var statusErr *sftp.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.FxCode() {
		case sftp.ErrSSHFxNoSuchFile:
			return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrNotExist}
		case sftp.ErrSSHFxPermissionDenied:
			return &filesync.PathError{Op: op, Path: path, Err: filesync.ErrPermission}
		}
	}

	return &filesync.PathError{Op: op, Path: path, Err: err}
}
