package filesync

import (
	"bytes"
	"io"
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLen is the number of bytes inspected when the extension is unknown.
const sniffLen = 3072

// DetectContentType guesses the MIME type from the file extension.
func DetectContentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// SniffContentType determines the content type of r. When the extension
// gives no answer the first bytes are inspected with mimetype. The returned
// reader yields the full original content.
func SniffContentType(path string, r io.Reader) (string, io.Reader, error) {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct, r, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", nil, err
	}
	head = head[:n]

	ct := mimetype.Detect(head).String()
	return ct, io.MultiReader(bytes.NewReader(head), r), nil
}
