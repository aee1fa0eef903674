// Package header implements the self-describing metadata block stored in the
// alpha channel of a pixvault raster.
//
// A header is a list of text fields, each terminated by a NUL byte. Header
// byte b is stored in the alpha channel of pixel i as b+1, so an untouched
// alpha of 255 means "no header byte here". Byte 254 therefore cannot be
// stored and byte 255 wraps to 0; rasters written by earlier encoders rely
// on exactly this mapping, so it is kept as is.
package header

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/trace"
)

// ScanLimit caps the number of pixels inspected when looking for a header.
const ScanLimit = 10000

const (
	sentinel   = 0xFF
	separator  = 0x00
	fieldCount = 5
	scanChunk  = 1024
)

// Tag records whether the payload is encrypted.
type Tag string

const (
	TagNone      Tag = "none"
	TagEncrypted Tag = "encrypted"
	// TagUnknown is reported by headers that predate the tag field.
	TagUnknown Tag = "unknown"
)

// Encrypted reports whether the payload must be decrypted before use.
func (t Tag) Encrypted() bool {
	return t == TagEncrypted
}

// Schema identifies which header layout matched.
type Schema int

const (
	// SchemaNone means no header was recognised.
	SchemaNone Schema = iota
	// SchemaV2 is name, length.
	SchemaV2
	// SchemaV3 is name, length, method.
	SchemaV3
	// SchemaV4 is name, length, method, tag.
	SchemaV4
	// SchemaV5 is kind, name, length, method, tag. It is the only layout
	// written today.
	SchemaV5
)

func (s Schema) String() string {
	switch s {
	case SchemaV2:
		return "v2"
	case SchemaV3:
		return "v3"
	case SchemaV4:
		return "v4"
	case SchemaV5:
		return "v5"
	}
	return "none"
}

// Header is the decoded metadata of a raster.
type Header struct {
	// Kind is "file", "folder" or "unknown".
	Kind string
	Name string
	// Length is the payload length in bytes, or -1 if not recorded.
	Length int64
	// Method is the archive method field as written, or "" if absent.
	Method string
	Tag    Tag
	// Digest is the password digest written by the oldest encrypting
	// encoders in place of a tag.
	Digest string
	Schema Schema
	// Consumed is the number of header bytes, and therefore pixels, that
	// precede the payload.
	Consumed int
}

// Encode renders h in the current layout.
func Encode(h Header) ([]byte, error) {
	fields := []string{h.Kind, h.Name, strconv.FormatInt(h.Length, 10), h.Method, string(h.Tag)}
	var buf bytes.Buffer
	for i, f := range fields {
		if strings.IndexByte(f, separator) >= 0 {
			return nil, failure.New(failure.InvalidInput, "encode header", "header field %d contains a NUL byte", i)
		}
		buf.WriteString(f)
		buf.WriteByte(separator)
	}
	if buf.Len() > ScanLimit {
		return nil, failure.New(failure.InvalidInput, "encode header",
			"header is %d bytes, longer than the %d-pixel scan window", buf.Len(), ScanLimit)
	}
	return buf.Bytes(), nil
}

// Place writes hdr into the alpha channel of the first len(hdr) pixels of
// the RGBA buffer pix.
func Place(pix, hdr []byte) {
	for i, b := range hdr {
		pix[4*i+3] = b + 1
	}
}

// Scan collects candidate header bytes from the alpha channel of pix. It
// stops after the fifth NUL or after ScanLimit pixels.
func Scan(ctx context.Context, pix []byte) ([]byte, error) {
	log := trace.FromContext(ctx).WithPrefix("HEADER")

	pixels := min(len(pix)/4, ScanLimit)
	out := make([]byte, 0, 256)
	nulls := 0
	for i := 0; i < pixels; i++ {
		if i%scanChunk == 0 {
			if err := ctx.Err(); err != nil {
				return nil, failure.Wrap(failure.Canceled, "scan header", err, "operation canceled")
			}
		}
		a := pix[4*i+3]
		if a == sentinel {
			continue
		}
		b := a - 1
		out = append(out, b)
		if b == separator {
			nulls++
			if nulls == fieldCount {
				break
			}
		}
	}
	log.Debugf("Collected %d candidate header bytes (%d separators)", len(out), nulls)
	return out, nil
}

// schema parses the leading fields of a collected header. fields holds at
// least n complete fields.
type schema struct {
	id    Schema
	n     int
	parse func(fields []string) (Header, bool)
}

// Layouts in the order they are tried, newest first.
var schemas = []schema{
	{SchemaV5, 5, parseV5},
	{SchemaV4, 4, parseV4},
	{SchemaV3, 3, parseV3},
	{SchemaV2, 2, parseV2},
}

// Parse interprets bytes returned by Scan. bufLen is the size of the whole
// RGBA buffer and bounds the payload a header may declare. Parse never
// fails: input that matches no layout yields a SchemaNone header whose
// payload is the entire buffer.
func Parse(ctx context.Context, collected []byte, bufLen int) Header {
	log := trace.FromContext(ctx).WithPrefix("HEADER")

	parts := strings.Split(string(collected), "\x00")
	complete := len(parts) - 1

	for _, s := range schemas {
		if complete < s.n {
			continue
		}
		h, ok := s.parse(parts[:s.n])
		if !ok {
			continue
		}
		consumed := 0
		for _, f := range parts[:s.n] {
			consumed += len(f) + 1
		}
		if h.Length > int64(bufLen)-int64(consumed)*4 {
			log.Debugf("Layout %s declares %d payload bytes, more than the raster holds", s.id, h.Length)
			continue
		}
		h.Schema = s.id
		h.Consumed = consumed
		if s.id != SchemaV5 {
			log.Debugf("Matched legacy header layout %s", s.id)
		}
		return h
	}

	log.Debugf("No header recognised; treating the whole raster as payload")
	return Header{Kind: "unknown", Length: -1, Tag: TagNone, Schema: SchemaNone}
}

// Read scans pix and parses the result.
func Read(ctx context.Context, pix []byte) (Header, error) {
	collected, err := Scan(ctx, pix)
	if err != nil {
		return Header{}, err
	}
	return Parse(ctx, collected, len(pix)), nil
}

// Payload returns the slice of pix that h describes.
func (h Header) Payload(pix []byte) []byte {
	start := 4 * h.Consumed
	if start > len(pix) {
		return nil
	}
	if h.Length < 0 || h.Length > int64(len(pix)-start) {
		return pix[start:]
	}
	return pix[start : start+int(h.Length)]
}

func (h Header) String() string {
	return fmt.Sprintf("%s kind=%s name=%q length=%d method=%q tag=%s consumed=%d",
		h.Schema, h.Kind, h.Name, h.Length, h.Method, h.Tag, h.Consumed)
}

func parseV5(f []string) (Header, bool) {
	if f[0] != "file" && f[0] != "folder" {
		return Header{}, false
	}
	n, ok := parseLength(f[2])
	if !ok || !validMethod(f[3]) {
		return Header{}, false
	}
	tag, digest, ok := parseTag(f[4])
	if !ok {
		return Header{}, false
	}
	return Header{Kind: f[0], Name: f[1], Length: n, Method: f[3], Tag: tag, Digest: digest}, true
}

func parseV4(f []string) (Header, bool) {
	n, ok := parseLength(f[1])
	if !ok || !validMethod(f[2]) {
		return Header{}, false
	}
	tag, digest, ok := parseTag(f[3])
	if !ok {
		return Header{}, false
	}
	return Header{Kind: "folder", Name: f[0], Length: n, Method: f[2], Tag: tag, Digest: digest}, true
}

func parseV3(f []string) (Header, bool) {
	n, ok := parseLength(f[1])
	if !ok || !validMethod(f[2]) {
		return Header{}, false
	}
	return Header{Kind: "folder", Name: f[0], Length: n, Method: f[2], Tag: TagNone}, true
}

func parseV2(f []string) (Header, bool) {
	n, ok := parseLength(f[1])
	if !ok {
		return Header{}, false
	}
	return Header{Kind: "folder", Name: f[0], Length: n, Tag: TagUnknown}, true
}

func parseLength(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func validMethod(s string) bool {
	if s == "" || len(s) > 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}

func parseTag(s string) (Tag, string, bool) {
	switch Tag(s) {
	case TagNone, TagEncrypted:
		return Tag(s), "", true
	}
	if len(s) != 16 {
		return "", "", false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", "", false
		}
	}
	return TagEncrypted, s, true
}
