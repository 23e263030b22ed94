package rowsource

// encoding.go provides the reader chain in front of the CSV parser:
//
//   - bomReader drops a leading UTF-8 BOM (0xEF 0xBB 0xBF) left by Windows tools
//   - utf8Sanitizer replaces invalid UTF-8 bytes with '?' without buffering the file
//   - legacy single-byte encodings are decoded with golang.org/x/text/encoding/charmap

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// textReader returns a UTF-8 reader over data for the requested encoding.
// In auto mode, data that is not valid UTF-8 is assumed to be Windows-1252,
// the usual encoding of CSVs exported by Excel on Windows.
func textReader(data []byte, enc string) (io.Reader, error) {
	src := newBOMReader(bytes.NewReader(data))

	switch strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(enc)) {
	case "", "auto":
		if utf8.Valid(data) {
			return src, nil
		}
		return decode(src, charmap.Windows1252), nil
	case "utf8":
		return newUTF8Sanitizer(src), nil
	case "windows1252", "cp1252":
		return decode(src, charmap.Windows1252), nil
	case "iso88591", "latin1":
		return decode(src, charmap.ISO8859_1), nil
	default:
		return nil, fmt.Errorf("%w: unknown encoding %q", ErrEncoding, enc)
	}
}

func decode(r io.Reader, enc encoding.Encoding) io.Reader {
	return transform.NewReader(r, enc.NewDecoder())
}

// newBOMReader drops a leading UTF-8 byte order mark.
func newBOMReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// utf8Sanitizer replaces invalid UTF-8 bytes with '?' as it reads.
// A multi-byte sequence split across two reads is carried over to the next one.
type utf8Sanitizer struct {
	r       io.Reader
	pending []byte
}

func newUTF8Sanitizer(r io.Reader) *utf8Sanitizer {
	return &utf8Sanitizer{r: r, pending: make([]byte, 0, utf8.UTFMax)}
}

func (s *utf8Sanitizer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	offset := copy(p, s.pending)
	s.pending = s.pending[:0]

	n, err := s.r.Read(p[offset:])
	n += offset
	if n == 0 {
		return 0, err
	}
	return s.sanitize(p[:n], err == io.EOF), err
}

// sanitize rewrites data in place and returns the number of bytes to hand out.
func (s *utf8Sanitizer) sanitize(data []byte, atEOF bool) int {
	w := 0
	for r := 0; r < len(data); {
		if data[r] < utf8.RuneSelf {
			data[w] = data[r]
			w++
			r++
			continue
		}
		if !atEOF && !utf8.FullRune(data[r:]) {
			s.pending = append(s.pending, data[r:]...)
			return w
		}
		ch, size := utf8.DecodeRune(data[r:])
		if ch == utf8.RuneError && size == 1 {
			data[w] = '?'
			w++
			r++
			continue
		}
		w += copy(data[w:], data[r:r+size])
		r += size
	}
	return w
}
