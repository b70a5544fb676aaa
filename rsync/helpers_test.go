package rsync

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/gobeaver/filesync/driver/memory"
)

const (
	md5ABC    = "kAFQmDzST7DWlj99KOF/cg=="
	md5XYZ    = "0W+zbwkR+HiZjBNhka9wXg=="
	crc32cABC = "Nks/tw=="
)

func newTestLogger() (*logrus.Logger, *test.Hook) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return log, hook
}

// messages returns the log messages at level.
func messages(hook *test.Hook, level logrus.Level) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		if e.Level == level {
			out = append(out, e.Message)
		}
	}
	return out
}

func containsMessage(hook *test.Hook, level logrus.Level, substr string) bool {
	for _, m := range messages(hook, level) {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

// sortedListing encodes and sorts entries the way a Sorter would.
func sortedListing(entries ...Entry) *strings.Reader {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.Encode()
	}
	sort.Strings(lines)
	return strings.NewReader(strings.Join(lines, ""))
}

func putObjects(t *testing.T, a *memory.Adapter, objects map[string]string) {
	t.Helper()
	for k, v := range objects {
		require.NoError(t, a.Write(context.Background(), k, strings.NewReader(v)))
	}
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

// readTree returns every regular file below root keyed by "/" path.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

// readBucket returns every object in a keyed by name.
func readBucket(t *testing.T, a *memory.Adapter) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, k := range a.Keys() {
		rc, err := a.Read(context.Background(), k)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		out[k] = string(data)
	}
	return out
}
