// Package pixvault converts a file or directory into a lossless raster image
// and back. Encoding archives the source, optionally encrypts the archive,
// and stores the bytes in the channels of a square RGBA image behind a small
// header kept in the alpha channel. Decoding reverses each step.
package pixvault

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rayozzie/pixvault/pkg/archive"
	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/header"
	"github.com/rayozzie/pixvault/pkg/raster"
	"github.com/rayozzie/pixvault/pkg/rng"
	"github.com/rayozzie/pixvault/pkg/seal"
	"github.com/rayozzie/pixvault/pkg/trace"
)

// Unknown is reported by Peek for fields it could not determine.
const Unknown = "Unknown"

// EncodeConfig holds configuration for encoding
type EncodeConfig struct {
	// Source is the file or directory to store.
	Source string
	// Dest is the raster to write; a .tif or .tiff extension selects TIFF,
	// anything else PNG.
	Dest string
	// Method defaults to archive.DefaultMethod.
	Method archive.Method
	// EnforceLimits rejects payloads or rasters beyond Limits before any
	// pixel buffer is allocated. A zero Limits means raster.DefaultLimits.
	EnforceLimits bool
	Limits        raster.Limits
	// Password, if non-empty, encrypts the archive.
	Password string
	Progress ProgressFunc
	// Log, if set, receives every log line of the call.
	Log     trace.Sink
	Verbose bool
	// RNG supplies the encryption salt; defaults to rng.NewDefault().
	RNG rng.RNG
}

// DecodeConfig holds configuration for decoding
type DecodeConfig struct {
	// Source is the raster to read.
	Source string
	// Dest is the directory to extract into, or with AsFile the exact path
	// for a single-file archive.
	Dest     string
	Password string
	AsFile   bool
	Progress ProgressFunc
	Log      trace.Sink
	Verbose  bool
}

// EncodeResult summarises a completed encode.
type EncodeResult struct {
	Dest         string
	Side         int
	HeaderBytes  int
	PayloadBytes int
	Entries      int
	Method       archive.Method
	Tag          header.Tag
}

// DecodeResult summarises a completed decode.
type DecodeResult struct {
	Dest    string
	Header  header.Header
	Entries int
}

// Info is what Peek can learn about a raster without decrypting or
// extracting it.
type Info struct {
	Name        string
	Kind        string
	EntryCount  int
	TotalSize   uint64
	Method      string
	PasswordTag string
	HeaderBytes int
}

// callContext gives each call its own tracer, tagged with a short
// operation id so concurrent calls can be told apart in a shared log.
func callContext(ctx context.Context, op string, sink trace.Sink, verbose bool) (context.Context, *trace.Tracer) {
	id := uuid.NewString()[:8]
	log := trace.FromContext(ctx).WithPrefix(fmt.Sprintf("%s[%s]", op, id))
	if sink != nil {
		log = log.WithSink(sink)
	}
	if verbose {
		log.SetVerbose(true)
	}
	return trace.WithContext(ctx, log), log
}

func canceled(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return failure.Wrap(failure.Canceled, op, err, "operation canceled")
	}
	return nil
}

// Encode stores cfg.Source in a raster at cfg.Dest.
func Encode(ctx context.Context, cfg EncodeConfig) (*EncodeResult, error) {
	ctx, log := callContext(ctx, "ENCODE", cfg.Log, cfg.Verbose)
	start := time.Now()
	log.Infof("Starting encode: Source=%s Dest=%s", cfg.Source, cfg.Dest)

	method := cfg.Method
	if method == "" {
		method = archive.DefaultMethod
	}
	limits := cfg.Limits
	if limits == (raster.Limits{}) {
		limits = raster.DefaultLimits
	}
	r := cfg.RNG
	if r == nil {
		r = rng.NewDefault()
	}
	log.Debugf("Encode parameters: method=%s limits=%v (%+v) encrypted=%v", method, cfg.EnforceLimits, limits, cfg.Password != "")

	if _, err := raster.FormatFor(cfg.Dest); err != nil {
		log.Error(err)
		return nil, err
	}
	dest, err := filepath.Abs(cfg.Dest)
	if err != nil {
		err := failure.Wrap(failure.InvalidInput, "encode", err, "invalid destination %s", cfg.Dest)
		log.Error(err)
		return nil, err
	}

	p := newProgress(cfg.Progress)
	p.phase(0, "Archiving")
	a, err := archive.Build(ctx, cfg.Source, archive.BuildOptions{
		Method:  method,
		Exclude: []string{dest},
		Progress: func(ev archive.Event) {
			p.send(Progress{Percent: span(0, 40, int64(ev.Index), int64(ev.Total)), Phase: "Archiving", Entry: ev.Name})
		},
	})
	if err != nil {
		return nil, err
	}

	p.phase(40, "Encrypting")
	payload, tag, err := seal.Seal(ctx, a.Data, cfg.Password, r)
	if err != nil {
		return nil, err
	}
	if err := canceled(ctx, "encode"); err != nil {
		log.Error(err)
		return nil, err
	}

	p.phase(50, "Packing")
	hdr, err := header.Encode(header.Header{
		Kind:   string(a.Origin.Kind),
		Name:   a.Origin.Name,
		Length: int64(len(payload)),
		Method: string(method),
		Tag:    tag,
	})
	if err != nil {
		log.Error(err)
		return nil, err
	}
	plan, err := raster.NewPlan(ctx, len(hdr), len(payload), cfg.EnforceLimits, limits)
	if err != nil {
		return nil, err
	}
	img, err := raster.Pack(ctx, plan, hdr, payload, func(done, total int64) {
		p.phase(span(50, 90, done, total), "Packing")
	})
	if err != nil {
		return nil, err
	}
	if err := canceled(ctx, "encode"); err != nil {
		log.Error(err)
		return nil, err
	}

	p.phase(90, "Saving")
	if err := raster.Save(ctx, img, dest); err != nil {
		return nil, err
	}
	p.phase(100, "Done")

	log.Infof("Encode complete (%s): %d entries, %d payload bytes, %dx%d raster -method %s -password %s",
		time.Since(start), a.Entries, len(payload), plan.Side, plan.Side, method, tag)
	return &EncodeResult{
		Dest:         dest,
		Side:         plan.Side,
		HeaderBytes:  len(hdr),
		PayloadBytes: len(payload),
		Entries:      a.Entries,
		Method:       method,
		Tag:          tag,
	}, nil
}

// Decode restores the contents of the raster at cfg.Source.
func Decode(ctx context.Context, cfg DecodeConfig) (*DecodeResult, error) {
	ctx, log := callContext(ctx, "DECODE", cfg.Log, cfg.Verbose)
	start := time.Now()
	log.Infof("Starting decode: Source=%s Dest=%s", cfg.Source, cfg.Dest)

	p := newProgress(cfg.Progress)
	p.phase(0, "Loading")
	pix, err := raster.Load(ctx, cfg.Source)
	if err != nil {
		return nil, err
	}

	p.phase(10, "Reading header")
	h, err := header.Read(ctx, pix)
	if err != nil {
		return nil, err
	}
	log.Debugf("Header: %s", h)

	p.phase(15, "Opening")
	payload := h.Payload(pix)
	plain, err := seal.Open(ctx, payload, h.Tag, cfg.Password)
	if err != nil {
		return nil, err
	}
	if err := canceled(ctx, "decode"); err != nil {
		log.Error(err)
		return nil, err
	}

	p.phase(25, "Extracting")
	entries := 0
	err = archive.Extract(ctx, plain, cfg.Dest, archive.ExtractOptions{
		AsFile: cfg.AsFile,
		Progress: func(ev archive.Event) {
			entries = ev.Index
			p.send(Progress{
				Percent: span(25, 100, int64(ev.Index), int64(ev.Total)),
				Phase:   "Extracting",
				Entry:   ev.Name,
				Start:   ev.Start,
				End:     ev.End,
			})
		},
	})
	if err != nil {
		return nil, err
	}
	p.phase(100, "Done")

	log.Infof("Decode complete (%s): %d entries from %q (%s header) into %s",
		time.Since(start), entries, h.Name, h.Schema, cfg.Dest)
	return &DecodeResult{Dest: cfg.Dest, Header: h, Entries: entries}, nil
}

// Peek reports what a raster holds without decrypting or extracting it.
// It never fails; fields it cannot determine are Unknown or zero.
func Peek(ctx context.Context, path string) Info {
	ctx, log := callContext(ctx, "INFO", nil, false)
	info := Info{Name: Unknown, Kind: Unknown, Method: Unknown, PasswordTag: Unknown}

	pix, err := raster.Load(ctx, path)
	if err != nil {
		log.Debugf("Cannot load %s: %v", path, err)
		return info
	}
	h, err := header.Read(ctx, pix)
	if err != nil {
		log.Debugf("Cannot read header of %s: %v", path, err)
		return info
	}

	info.PasswordTag = string(h.Tag)
	info.HeaderBytes = h.Consumed
	if h.Schema != header.SchemaNone {
		info.Name = h.Name
		info.Kind = h.Kind
		info.Method = archive.Label(h.Method)
	}
	if h.Tag.Encrypted() {
		return info
	}

	entries, err := archive.List(ctx, h.Payload(pix))
	if err != nil {
		log.Debugf("Cannot list archive in %s: %v", path, err)
		return info
	}
	info.EntryCount = len(entries)
	for _, e := range entries {
		info.TotalSize += e.Size
	}
	return info
}
