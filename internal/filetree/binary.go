package filetree

import (
	"bytes"
	"io"
	"os"
	"unicode/utf8"
)

// SniffLen is how much of a file is inspected for binary detection.
const SniffLen = 8 << 10

// IsBinaryContent reports whether head looks like binary data: it contains a
// NUL byte or is not valid UTF-8. When truncated is set, a multi-byte rune cut
// at the end of head is tolerated.
func IsBinaryContent(head []byte, truncated bool) bool {
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	if truncated {
		for i := 0; i < utf8.UTFMax-1 && len(head) > 0 && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
	}
	return !utf8.Valid(head)
}

// IsBinaryFile sniffs the first SniffLen bytes of path.
func IsBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, SniffLen)
	n, err := io.ReadFull(f, buf)
	switch err {
	case nil:
		return IsBinaryContent(buf, true), nil
	case io.EOF, io.ErrUnexpectedEOF:
		return IsBinaryContent(buf[:n], false), nil
	default:
		return false, err
	}
}
