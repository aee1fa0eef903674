package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// Zip stores LZMA entries as a 4-byte prefix (SDK version 9.20, properties
// length 5), the 5 properties bytes and the raw stream terminated by an
// end-of-stream marker. The classic .lzma header carries the same properties
// followed by an 8-byte size, so conversion drops or restores those 8 bytes.
var lzmaZipPrefix = []byte{9, 20, 5, 0}

const (
	lzmaPropsLen     = 5
	lzmaMaxDictCap   = 64 << 20
	lzmaZipFlagEOS   = 0x2
	lzmaUnknownSize  = 0xff
	lzmaSizeFieldLen = lzma.HeaderLen - lzmaPropsLen
)

// lzmaDictCap picks a dictionary no larger than the input needs.
func lzmaDictCap(total int64) int {
	d := lzma.MinDictCap
	for int64(d) < total && d < lzmaMaxDictCap {
		d <<= 1
	}
	return d
}

// lzmaCompressor returns a zip compressor for LZMA entries. The zip writer
// calls it before the local file header is written, so nothing may reach w
// until the entry receives data or is closed.
func lzmaCompressor(dictCap int) func(io.Writer) (io.WriteCloser, error) {
	return func(w io.Writer) (io.WriteCloser, error) {
		cfg := lzma.WriterConfig{
			DictCap:   dictCap,
			EOSMarker: true,
		}
		if err := cfg.Verify(); err != nil {
			return nil, err
		}
		return &lzmaEntryWriter{w: w, cfg: cfg}, nil
	}
}

// lzmaEntryWriter starts the entry prefix and the LZMA stream on first use.
type lzmaEntryWriter struct {
	w   io.Writer
	cfg lzma.WriterConfig
	lw  *lzma.Writer
}

func (e *lzmaEntryWriter) start() error {
	if e.lw != nil {
		return nil
	}
	if _, err := e.w.Write(lzmaZipPrefix); err != nil {
		return err
	}
	lw, err := e.cfg.NewWriter(&lzmaHeaderStripper{w: e.w})
	if err != nil {
		return err
	}
	e.lw = lw
	return nil
}

func (e *lzmaEntryWriter) Write(p []byte) (int, error) {
	if err := e.start(); err != nil {
		return 0, err
	}
	return e.lw.Write(p)
}

func (e *lzmaEntryWriter) Close() error {
	if err := e.start(); err != nil {
		return err
	}
	return e.lw.Close()
}

// lzmaHeaderStripper forwards the properties of a classic header and drops
// its size field.
type lzmaHeaderStripper struct {
	w    io.Writer
	seen int
}

func (s *lzmaHeaderStripper) Write(p []byte) (int, error) {
	n := len(p)
	for len(p) > 0 && s.seen < lzma.HeaderLen {
		if s.seen < lzmaPropsLen {
			k := min(lzmaPropsLen-s.seen, len(p))
			if _, err := s.w.Write(p[:k]); err != nil {
				return 0, err
			}
			s.seen += k
			p = p[k:]
			continue
		}
		k := min(lzma.HeaderLen-s.seen, len(p))
		s.seen += k
		p = p[k:]
	}
	if len(p) > 0 {
		if _, err := s.w.Write(p); err != nil {
			return 0, err
		}
	}
	return n, nil
}

func lzmaDecompressor(r io.Reader) io.ReadCloser {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return errReadCloser{fmt.Errorf("lzma entry prefix: %w", err)}
	}
	propsLen := int(prefix[2]) | int(prefix[3])<<8
	if propsLen != lzmaPropsLen {
		return errReadCloser{fmt.Errorf("lzma entry has %d properties bytes", propsLen)}
	}
	hdr := make([]byte, lzma.HeaderLen)
	if _, err := io.ReadFull(r, hdr[:lzmaPropsLen]); err != nil {
		return errReadCloser{fmt.Errorf("lzma entry properties: %w", err)}
	}
	copy(hdr[lzmaPropsLen:], bytes.Repeat([]byte{lzmaUnknownSize}, lzmaSizeFieldLen))

	lr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(hdr), r))
	if err != nil {
		return errReadCloser{err}
	}
	return io.NopCloser(lr)
}
