// Package container implements the lazy, ordered Opus frame reader of
// spec §4.5: a WebM/Matroska EBML reader (primary) and an Ogg page reader
// (alternate), chosen by sniffing the stream's magic bytes.
package container

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

var (
	webmMagic = []byte{0x1A, 0x45, 0xDF, 0xA3} // EBML header ID
	oggMagic  = []byte("OggS")
)

// format names one of the two supported container formats.
type format int

const (
	formatWebm format = iota
	formatOgg
)

// Reader produces a lazy sequence of Opus frame payloads from an underlying
// byte stream, sniffing WebM vs Ogg from the stream's leading bytes.
type Reader struct {
	webm *webmReader
	ogg  *oggReader
	kind format
}

// Open sniffs r's magic bytes and returns a Reader positioned at the start
// of the container. r need not be seekable; a small amount of lookahead is
// buffered internally.
func Open(r io.Reader) (*Reader, error) {
	br := bufio.NewReaderSize(r, 4096)
	head, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("container: sniff magic: %w", err)
	}

	switch {
	case bytes.Equal(head, webmMagic):
		return &Reader{webm: newWebmReader(br), kind: formatWebm}, nil
	case bytes.Equal(head, oggMagic):
		return &Reader{ogg: newOggReader(br), kind: formatOgg}, nil
	default:
		return nil, fmt.Errorf("container: unrecognized magic bytes %x", head)
	}
}

// OpenFile opens path and sniffs its container format. The file is kept
// open for the lifetime of the returned Reader; callers that need to close
// it should wrap Open themselves instead.
func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("container: open %q: %w", path, err)
	}
	r, err := Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NextFrame returns the next Opus frame, or io.EOF once the container is
// exhausted. Only frame bytes are returned; timing is the caller's
// responsibility (spec §4.5: "timing and volume are the pacer's
// responsibility").
func (c *Reader) NextFrame() ([]byte, error) {
	switch c.kind {
	case formatWebm:
		return c.webm.nextFrame()
	case formatOgg:
		return c.ogg.nextFrame()
	default:
		return nil, fmt.Errorf("container: reader has no backing format")
	}
}
