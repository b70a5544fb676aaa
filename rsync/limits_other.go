//go:build !unix

package rsync

// chunkLimit returns 0: handle limits are enforced by the OS only when a
// chunk is opened.
func chunkLimit() int {
	return 0
}
