package rsync

import (
	"path/filepath"
	"strings"

	"github.com/gobeaver/filesync"
)

// RelativePath returns object relative to root, with sep replaced by "/".
//
// A single trailing separator on root is ignored, so "photos" and
// "photos/" name the same root. An empty root means the whole backend.
// The boolean is false when object does not lie strictly below root.
func RelativePath(root, object string, sep byte) (string, bool) {
	s := string(sep)
	root = strings.TrimSuffix(root, s)

	var rel string
	switch {
	case root == "":
		rel = strings.TrimPrefix(object, s)
	case strings.HasPrefix(object, root+s):
		rel = object[len(root)+1:]
	default:
		return "", false
	}

	if rel == "" {
		return "", false
	}
	if sep != '/' {
		rel = strings.ReplaceAll(rel, s, "/")
	}
	return rel, true
}

// listRoot is the prefix handed to the backend when listing u. Cloud
// backends are opened on the bucket; the local backend on the directory
// itself.
func listRoot(u *filesync.StorageURL) string {
	if u.IsFileURL() {
		return ""
	}
	return u.Object
}

// containerPath names the object that a relative path maps to below the
// root u, in the form the backend opened for u expects. This is the rule a
// plain copy into a container uses.
func containerPath(u *filesync.StorageURL, rel string) string {
	if u.IsFileURL() {
		return filepath.FromSlash(rel)
	}
	base := strings.TrimSuffix(u.Object, "/")
	if base == "" {
		return rel
	}
	return base + "/" + rel
}

// displayURL is the full URL string of rel below u, for logs.
func displayURL(u *filesync.StorageURL, rel string) string {
	return u.Join(rel).String()
}
