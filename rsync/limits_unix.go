//go:build unix

package rsync

import (
	"math"
	"syscall"
)

// reservedHandles is kept free for sockets, listings and transfers.
const reservedHandles = 64

// chunkLimit returns the number of chunk files one merge may hold open, or
// 0 when there is no practical limit. The source and destination listings
// are merged concurrently, so each gets half of what is left.
func chunkLimit() int {
	var rl syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rl); err != nil {
		return 0
	}
	cur := uint64(rl.Cur)
	if cur >= math.MaxInt32 {
		return 0
	}
	if cur <= 2*reservedHandles {
		return int(cur / 4)
	}
	return (int(cur) - reservedHandles) / 2
}
