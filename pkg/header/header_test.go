package header

import (
	"bytes"
	"context"
	"math"
	"testing"

	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/trace"
)

func testContext() context.Context {
	return trace.WithContext(context.Background(), trace.NewTracer("TEST", trace.LogLevelVerbose))
}

// raster lays hdr and payload out the way the packer does in a buffer of
// the given number of pixels.
func raster(pixels int, hdr, payload []byte) []byte {
	pix := bytes.Repeat([]byte{0xff}, pixels*4)
	Place(pix, hdr)
	copy(pix[len(hdr)*4:], payload)
	return pix
}

// zipLike is payload whose alpha positions never decode to NUL.
var zipLike = bytes.Repeat([]byte{0x50, 0x4b, 0x03, 0x04}, 64)

func TestEncodeLayout(t *testing.T) {
	got, err := Encode(Header{Kind: "folder", Name: "src", Length: 123, Method: "best", Tag: TagNone})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := "folder\x00src\x00123\x00best\x00none\x00"
	if string(got) != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestEncodeRejects(t *testing.T) {
	if _, err := Encode(Header{Kind: "file", Name: "a\x00b", Method: "best", Tag: TagNone}); !failure.Is(err, failure.InvalidInput) {
		t.Errorf("Expected InvalidInput for NUL in name, got %v", err)
	}
	long := string(bytes.Repeat([]byte("n"), ScanLimit))
	if _, err := Encode(Header{Kind: "file", Name: long, Method: "best", Tag: TagNone}); !failure.Is(err, failure.InvalidInput) {
		t.Errorf("Expected InvalidInput for oversized header, got %v", err)
	}
}

func TestRoundTripCurrentLayout(t *testing.T) {
	ctx := testContext()
	in := Header{Kind: "file", Name: "résumé.pdf", Length: int64(len(zipLike)), Method: "best", Tag: TagEncrypted}
	hdr, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	pix := raster(10000, hdr, zipLike)

	h, err := Read(ctx, pix)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if h.Schema != SchemaV5 || h.Kind != "file" || h.Name != in.Name || h.Method != "best" || h.Tag != TagEncrypted {
		t.Errorf("Unexpected header %s", h)
	}
	if h.Consumed != len(hdr) {
		t.Errorf("Consumed = %d, want %d", h.Consumed, len(hdr))
	}
	if !bytes.Equal(h.Payload(pix), zipLike) {
		t.Errorf("Payload mismatch")
	}
}

func TestLegacyLayouts(t *testing.T) {
	nullHeavy := bytes.Repeat([]byte{0x10, 0x20, 0x30, 0x01}, 64)

	tests := []struct {
		name    string
		hdr     string
		payload []byte
		schema  Schema
		kind    string
		hname   string
		method  string
		tag     Tag
		digest  string
	}{
		{
			name: "five fields", hdr: "folder\x00photos\x00256\x00balanced\x00none\x00", payload: zipLike,
			schema: SchemaV5, kind: "folder", hname: "photos", method: "balanced", tag: TagNone,
		},
		{
			name: "four fields", hdr: "photos\x00256\x00lzma\x00none\x00", payload: zipLike,
			schema: SchemaV4, kind: "folder", hname: "photos", method: "lzma", tag: TagNone,
		},
		{
			name: "four fields with digest", hdr: "photos\x00256\x00zip_lzma\x000123456789abcdef\x00", payload: zipLike,
			schema: SchemaV4, kind: "folder", hname: "photos", method: "zip_lzma", tag: TagEncrypted, digest: "0123456789abcdef",
		},
		{
			name: "three fields", hdr: "photos\x00256\x00bz2\x00", payload: zipLike,
			schema: SchemaV3, kind: "folder", hname: "photos", method: "bz2", tag: TagNone,
		},
		{
			name: "two fields", hdr: "photos\x00256\x00", payload: zipLike,
			schema: SchemaV2, kind: "folder", hname: "photos", method: "", tag: TagUnknown,
		},
		{
			name: "two fields followed by NUL-rich payload", hdr: "photos\x00256\x00", payload: nullHeavy,
			schema: SchemaV2, kind: "folder", hname: "photos", method: "", tag: TagUnknown,
		},
		{
			name: "three fields named like a kind", hdr: "folder\x00256\x00zlib\x00", payload: zipLike,
			schema: SchemaV3, kind: "folder", hname: "folder", method: "zlib", tag: TagNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext()
			pix := raster(10000, []byte(tt.hdr), tt.payload)

			h, err := Read(ctx, pix)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if h.Schema != tt.schema {
				t.Fatalf("Schema = %s, want %s (%s)", h.Schema, tt.schema, h)
			}
			if h.Kind != tt.kind || h.Name != tt.hname || h.Method != tt.method || h.Tag != tt.tag || h.Digest != tt.digest {
				t.Errorf("Unexpected header %s digest=%q", h, h.Digest)
			}
			if h.Length != int64(len(tt.payload)) {
				t.Errorf("Length = %d, want %d", h.Length, len(tt.payload))
			}
			if h.Consumed != len(tt.hdr) {
				t.Errorf("Consumed = %d, want %d", h.Consumed, len(tt.hdr))
			}
			if !bytes.Equal(h.Payload(pix), tt.payload) {
				t.Errorf("Payload mismatch")
			}
		})
	}
}

func TestNoHeader(t *testing.T) {
	tests := []struct {
		name string
		pix  []byte
	}{
		{"blank raster", raster(100, nil, nil)},
		{"payload without header", raster(100, nil, zipLike)},
		{"non-numeric length", raster(1000, []byte("folder\x00x\x00lots\x00best\x00none\x00"), zipLike)},
		{"length beyond raster", raster(100, []byte("folder\x00x\x0099999\x00best\x00none\x00"), zipLike)},
		{"single field", raster(100, []byte("orphan\x00"), zipLike)},
		{"length near int64 limit", raster(100, []byte("folder\x00x\x009223372036854775800\x00best\x00none\x00"), zipLike)},
		{"legacy length near int64 limit", raster(100, []byte("x\x009223372036854775807\x00"), zipLike)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Read(testContext(), tt.pix)
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			if h.Schema != SchemaNone || h.Consumed != 0 || h.Length != -1 || h.Tag != TagNone {
				t.Errorf("Expected no header, got %s", h)
			}
			if len(h.Payload(tt.pix)) != len(tt.pix) {
				t.Errorf("Expected the whole buffer as payload")
			}
		})
	}
}

func TestPayloadBounds(t *testing.T) {
	pix := raster(100, nil, zipLike)
	tests := []struct {
		name string
		h    Header
		want int
	}{
		{"exact", Header{Consumed: 3, Length: 40}, 40},
		{"overrun", Header{Consumed: 3, Length: 1 << 40}, len(pix) - 12},
		{"int64 limit", Header{Consumed: 3, Length: math.MaxInt64}, len(pix) - 12},
		{"unknown length", Header{Consumed: 0, Length: -1}, len(pix)},
		{"consumed beyond buffer", Header{Consumed: len(pix), Length: 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.h.Payload(pix)); got != tt.want {
				t.Errorf("len(Payload) = %d, want %d", got, tt.want)
			}
		})
	}
}

// Header byte 254 is stored as alpha 255 and is indistinguishable from an
// untouched pixel, so it is silently dropped on read.
func TestByte254IsLost(t *testing.T) {
	hdr, err := Encode(Header{Kind: "file", Name: "a\xfeb", Length: int64(len(zipLike)), Method: "best", Tag: TagNone})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	pix := raster(10000, hdr, zipLike)
	if pix[4*len("file\x00a")+3] != 0xff {
		t.Fatalf("Expected byte 254 to be stored as alpha 255")
	}

	h, err := Read(testContext(), pix)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if h.Name != "ab" {
		t.Errorf("Name = %q, want the lossy %q", h.Name, "ab")
	}
	if h.Consumed != len(hdr)-1 {
		t.Errorf("Consumed = %d, want %d", h.Consumed, len(hdr)-1)
	}

	// The payload is then read one pixel early: it starts with the last
	// header pixel and is missing its final four bytes.
	payload := h.Payload(pix)
	if len(payload) != len(zipLike) {
		t.Fatalf("len(Payload) = %d, want %d", len(payload), len(zipLike))
	}
	if bytes.Equal(payload, zipLike) {
		t.Errorf("Expected the payload to be misaligned")
	}
	if want := []byte{0xff, 0xff, 0xff, separator + 1}; !bytes.Equal(payload[:4], want) {
		t.Errorf("Payload starts with %x, want the last header pixel %x", payload[:4], want)
	}
	if !bytes.Equal(payload[4:], zipLike[:len(zipLike)-4]) {
		t.Errorf("Expected the payload to be shifted by exactly one pixel")
	}
}

func TestScanBounds(t *testing.T) {
	ctx := testContext()

	pix := bytes.Repeat([]byte{0, 0, 0, 0x42}, 2*ScanLimit)
	got, err := Scan(ctx, pix)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(got) != ScanLimit {
		t.Errorf("Expected scan to stop at %d pixels, collected %d bytes", ScanLimit, len(got))
	}

	pix = raster(100, []byte("a\x00b\x00c\x00d\x00e\x00f\x00g\x00"), nil)
	got, err = Scan(ctx, pix)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if string(got) != "a\x00b\x00c\x00d\x00e\x00" {
		t.Errorf("Expected scan to stop after five separators, got %q", got)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Scan(cctx, pix); !failure.Is(err, failure.Canceled) {
		t.Errorf("Expected Canceled, got %v", err)
	}
}
