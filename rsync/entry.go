package rsync

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// noChecksum stands in for a digest the backend did not report.
const noChecksum = "-"

// Entry is one line of a listing: a root-relative "/"-separated path, the
// size and whatever digests the backend knows.
type Entry struct {
	Path   string
	Size   int64
	CRC32C string
	MD5    string
}

// Key is the escaped path. Sorted listings are ordered by it.
func (e Entry) Key() string {
	return url.QueryEscape(e.Path)
}

// Encode renders the entry as a newline-terminated listing line. The path is
// query-escaped so it never contains a space or newline, and every escaped
// byte sorts above the field separator, which makes line order equal to
// path order.
func (e Entry) Encode() string {
	var b strings.Builder
	b.WriteString(e.Key())
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(e.Size, 10))
	b.WriteByte(' ')
	b.WriteString(orNoChecksum(e.CRC32C))
	b.WriteByte(' ')
	b.WriteString(orNoChecksum(e.MD5))
	b.WriteByte('\n')
	return b.String()
}

func (e Entry) String() string {
	return strings.TrimSuffix(e.Encode(), "\n")
}

// DecodeEntry parses a line produced by Encode. The trailing newline is
// optional.
func DecodeEntry(line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 {
		return Entry{}, fmt.Errorf("malformed listing line %q: want 4 fields, got %d", line, len(fields))
	}

	p, err := url.QueryUnescape(fields[0])
	if err != nil {
		return Entry{}, fmt.Errorf("malformed listing path %q: %w", fields[0], err)
	}
	size, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || size < 0 {
		return Entry{}, fmt.Errorf("malformed listing size %q", fields[1])
	}

	return Entry{
		Path:   p,
		Size:   size,
		CRC32C: fromNoChecksum(fields[2]),
		MD5:    fromNoChecksum(fields[3]),
	}, nil
}

func orNoChecksum(s string) string {
	if s == "" {
		return noChecksum
	}
	return s
}

func fromNoChecksum(s string) string {
	if s == noChecksum {
		return ""
	}
	return s
}
