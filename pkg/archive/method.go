package archive

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

// Method selects the entropy coder used for every archive entry.
type Method string

const (
	MethodFast            Method = "fast"
	MethodBalanced        Method = "balanced"
	MethodBest            Method = "best"
	MethodBestInterop     Method = "best-interop"
	MethodBalancedInterop Method = "balanced-interop"
	MethodZstd            Method = "zstd"

	// MethodUnknown labels archives whose header did not record a method.
	MethodUnknown Method = "unknown"

	DefaultMethod = MethodBest
)

// Zip method ids beyond Store and Deflate.
const (
	zipMethodBzip2 uint16 = 12
	zipMethodLZMA  uint16 = 14
	zipMethodZstd  uint16 = zstd.ZipMethodWinZip
)

// Tokens written by earlier encoders.
var legacyMethods = map[string]Method{
	"lzma":     MethodBest,
	"bz2":      MethodBalanced,
	"zlib":     MethodFast,
	"zip_lzma": MethodBestInterop,
	"zip_bz2":  MethodBalancedInterop,
}

type methodSpec struct {
	zipMethod uint16
	level     int
}

var methods = map[Method]methodSpec{
	MethodFast:            {zip.Deflate, flate.BestSpeed},
	MethodBalanced:        {zipMethodBzip2, bzip2.BestCompression},
	MethodBest:            {zipMethodLZMA, 0},
	MethodBestInterop:     {zip.Deflate, flate.BestCompression},
	MethodBalancedInterop: {zip.Deflate, flate.DefaultCompression},
	MethodZstd:            {zipMethodZstd, int(zstd.SpeedBestCompression)},
}

// Methods lists the selectable method tokens in a stable order.
func Methods() []Method {
	out := make([]Method, 0, len(methods))
	for m := range methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseMethod resolves a method token, accepting legacy aliases. Matching is
// case-insensitive.
func ParseMethod(s string) (Method, error) {
	tok := strings.ToLower(strings.TrimSpace(s))
	if m, ok := legacyMethods[tok]; ok {
		return m, nil
	}
	m := Method(tok)
	if _, ok := methods[m]; !ok {
		return "", fmt.Errorf("unknown archive method %q", s)
	}
	return m, nil
}

// Valid returns a nil error iff m is a selectable method.
func (m Method) Valid() error {
	if _, ok := methods[m]; !ok {
		return fmt.Errorf("unknown archive method %q", string(m))
	}
	return nil
}

// ZipMethod returns the zip compression id used for entries of this method.
func (m Method) ZipMethod() uint16 {
	return methods[m].zipMethod
}

// Label renders a header method field for display. Legacy tokens keep their
// original spelling next to the current name.
func Label(field string) string {
	if field == "" {
		return string(MethodUnknown)
	}
	if m, ok := legacyMethods[strings.ToLower(field)]; ok {
		return fmt.Sprintf("%s (%s)", m, field)
	}
	return field
}

// registerCompressor installs the compressor for m on zw. dictCap sizes the
// LZMA dictionary and is ignored by the other coders.
func registerCompressor(zw *zip.Writer, m Method, dictCap int) {
	spec := methods[m]
	switch spec.zipMethod {
	case zip.Deflate:
		level := spec.level
		zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, level)
		})
	case zipMethodBzip2:
		level := spec.level
		zw.RegisterCompressor(zipMethodBzip2, func(w io.Writer) (io.WriteCloser, error) {
			return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
		})
	case zipMethodLZMA:
		zw.RegisterCompressor(zipMethodLZMA, lzmaCompressor(dictCap))
	case zipMethodZstd:
		zw.RegisterCompressor(zipMethodZstd, zstd.ZipCompressor(
			zstd.WithEncoderLevel(zstd.EncoderLevel(spec.level)),
		))
	}
}

// registerDecompressors makes every supported method readable from zr.
func registerDecompressors(zr *zip.Reader) {
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)
	zr.RegisterDecompressor(zipMethodBzip2, func(r io.Reader) io.ReadCloser {
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return errReadCloser{err}
		}
		return br
	})
	zr.RegisterDecompressor(zipMethodLZMA, lzmaDecompressor)
	zr.RegisterDecompressor(zipMethodZstd, zstd.ZipDecompressor())
}

type errReadCloser struct{ err error }

func (e errReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errReadCloser) Close() error             { return nil }
