// Package raster packs a header and payload into a square RGBA image and
// recovers the flat channel buffer from an image file.
//
// The buffer is S*S*4 bytes in row-major RGBA order, initialised to 0xFF.
// Header byte i lives in the alpha channel of pixel i; the payload is copied
// verbatim to [4*len(header), 4*len(header)+len(payload)) without regard to
// channel boundaries.
package raster

import (
	"context"
	"image"
	"math"

	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/header"
	"github.com/rayozzie/pixvault/pkg/trace"
)

const (
	// MinSide is the smallest raster produced.
	MinSide = 100

	chunkSize = 1 << 20
	fill      = 0xFF
)

// Limits bound the payload size and raster side when enforcement is on.
type Limits struct {
	MaxPayload int64
	MaxSide    int
}

// DefaultLimits are applied when limits are enabled without explicit values.
var DefaultLimits = Limits{
	MaxPayload: 500 << 20,
	MaxSide:    90000,
}

// Plan is the geometry of a raster about to be packed.
type Plan struct {
	Side       int
	HeaderLen  int
	PayloadLen int
}

// Bytes is the size of the channel buffer.
func (p Plan) Bytes() int64 {
	return int64(p.Side) * int64(p.Side) * 4
}

// Side returns the side length for a header and payload: the smallest side
// of at least MinSide whose pixel count covers (headerLen+payloadLen)/4,
// grown if needed so the payload, which starts at byte 4*headerLen, fits.
func Side(headerLen, payloadLen int64) int {
	s := ceilSqrt(ceilDiv(headerLen+payloadLen, 4))
	if need := ceilSqrt(headerLen + ceilDiv(payloadLen, 4)); need > s {
		s = need
	}
	return max(MinSide, int(s))
}

// NewPlan computes the raster geometry. With enforce set it rejects
// payloads or sides beyond limits; nothing is allocated either way.
func NewPlan(ctx context.Context, headerLen, payloadLen int, enforce bool, limits Limits) (Plan, error) {
	log := trace.FromContext(ctx).WithPrefix("RASTER")

	p := Plan{
		Side:       Side(int64(headerLen), int64(payloadLen)),
		HeaderLen:  headerLen,
		PayloadLen: payloadLen,
	}
	log.Debugf("Header %d bytes, payload %d bytes, side %d", headerLen, payloadLen, p.Side)

	if !enforce {
		return p, nil
	}
	if limits.MaxPayload > 0 && int64(payloadLen) > limits.MaxPayload {
		err := failure.New(failure.CapacityExceeded, "plan raster",
			"payload is %d bytes, limit is %d", payloadLen, limits.MaxPayload)
		log.Error(err)
		return Plan{}, err
	}
	if limits.MaxSide > 0 && p.Side > limits.MaxSide {
		err := failure.New(failure.CapacityExceeded, "plan raster",
			"raster side would be %d pixels, limit is %d", p.Side, limits.MaxSide)
		log.Error(err)
		return Plan{}, err
	}
	return p, nil
}

// allocate returns a buffer of n bytes set to the background value.
var allocate = func(n int64) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

// Pack lays hdr and payload out per plan. progress, if set, is called after
// each chunk of payload is copied with the bytes copied so far.
func Pack(ctx context.Context, plan Plan, hdr, payload []byte, progress func(done, total int64)) (*image.NRGBA, error) {
	log := trace.FromContext(ctx).WithPrefix("RASTER")

	if len(hdr) != plan.HeaderLen || len(payload) != plan.PayloadLen {
		err := failure.New(failure.InvalidInput, "pack raster", "plan does not match header and payload sizes")
		log.Error(err)
		return nil, err
	}

	pix := allocate(plan.Bytes())
	header.Place(pix, hdr)

	start := 4 * len(hdr)
	total := int64(len(payload))
	for off := 0; off < len(payload); off += chunkSize {
		if err := ctx.Err(); err != nil {
			err := failure.Wrap(failure.Canceled, "pack raster", err, "operation canceled")
			log.Error(err)
			return nil, err
		}
		end := min(off+chunkSize, len(payload))
		copy(pix[start+off:], payload[off:end])
		if progress != nil {
			progress(int64(end), total)
		}
	}

	log.Debugf("Packed %d header bytes and %d payload bytes into %dx%d", len(hdr), len(payload), plan.Side, plan.Side)
	return &image.NRGBA{
		Pix:    pix,
		Stride: 4 * plan.Side,
		Rect:   image.Rect(0, 0, plan.Side, plan.Side),
	}, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// ceilSqrt returns the smallest s with s*s >= n.
func ceilSqrt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	s := int64(math.Sqrt(float64(n)))
	for s*s < n {
		s++
	}
	for s > 0 && (s-1)*(s-1) >= n {
		s--
	}
	return s
}
