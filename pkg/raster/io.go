package raster

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/trace"
	"golang.org/x/image/tiff"
)

// Format is a lossless raster file format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
)

// Extensions that name lossy or palette-only formats, which cannot carry
// the buffer intact.
var lossy = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
}

// FormatFor picks the output format from a destination path. PNG is used
// unless the extension names TIFF.
func FormatFor(path string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".tif" || ext == ".tiff":
		return FormatTIFF, nil
	case lossy[ext]:
		return "", failure.New(failure.InvalidInput, "save raster", "%s cannot store a raster losslessly", ext)
	}
	return FormatPNG, nil
}

func (f Format) encoder() imgio.Encoder {
	if f == FormatTIFF {
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
		}
	}
	return imgio.PNGEncoder()
}

// Save writes img to path. The image is written to a temporary file in the
// same directory and renamed into place once complete.
func Save(ctx context.Context, img image.Image, path string) error {
	log := trace.FromContext(ctx).WithPrefix("RASTER")

	format, err := FormatFor(path)
	if err != nil {
		log.Error(err)
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		err := failure.Wrap(failure.IOError, "save raster", err, "failed to create %s", dir)
		log.Error(err)
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		err := failure.Wrap(failure.IOError, "save raster", err, "failed to create temporary file in %s", dir)
		log.Error(err)
		return err
	}
	tmpPath := tmp.Name()

	log.Debugf("Writing %s raster to %s", format, tmpPath)
	encErr := format.encoder()(tmp, img)
	closeErr := tmp.Close()
	if err := errors.Join(encErr, closeErr); err != nil {
		os.Remove(tmpPath)
		err := failure.Wrap(failure.IOError, "save raster", err, "failed to write %s", path)
		log.Error(err)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		err := failure.Wrap(failure.IOError, "save raster", err, "failed to move raster into place at %s", path)
		log.Error(err)
		return err
	}
	log.Debugf("Saved raster to %s", path)
	return nil
}

// Load reads an image file and returns its flat RGBA channel buffer.
func Load(ctx context.Context, path string) ([]byte, error) {
	log := trace.FromContext(ctx).WithPrefix("RASTER")

	img, err := imgio.Open(path)
	if err != nil {
		kind := failure.InvalidImage
		if errors.Is(err, fs.ErrNotExist) {
			kind = failure.NotFound
		}
		err := failure.Wrap(kind, "load raster", err, "cannot read image %s", path)
		log.Error(err)
		return nil, err
	}

	b := img.Bounds()
	log.Debugf("Loaded %dx%d %T from %s", b.Dx(), b.Dy(), img, path)
	return Flatten(img), nil
}

// Flatten returns the row-major RGBA bytes of img with straight alpha.
// Images without an alpha channel get 0xFF inserted after every RGB triple.
func Flatten(img image.Image) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch m := img.(type) {
	case *image.NRGBA:
		return copyRows(m.Pix, m.Stride, w, h)
	case *image.RGBA:
		if m.Opaque() {
			return copyRows(m.Pix, m.Stride, w, h)
		}
	}

	if !hasAlpha(img.ColorModel()) {
		rgb := make([]byte, 0, w*h*3)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				rgb = append(rgb, c.R, c.G, c.B)
			}
		}
		return ExpandRGB(rgb)
	}

	out := make([]byte, 0, w*h*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out = append(out, c.R, c.G, c.B, c.A)
		}
	}
	return out
}

// ExpandRGB inserts an opaque alpha byte after every 3 bytes of rgb.
func ExpandRGB(rgb []byte) []byte {
	out := make([]byte, 0, len(rgb)/3*4)
	for i := 0; i+3 <= len(rgb); i += 3 {
		out = append(out, rgb[i], rgb[i+1], rgb[i+2], fill)
	}
	return out
}

func copyRows(pix []byte, stride, w, h int) []byte {
	out := make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		copy(out[y*w*4:(y+1)*w*4], pix[y*stride:y*stride+w*4])
	}
	return out
}

func hasAlpha(m color.Model) bool {
	switch m {
	case color.GrayModel, color.Gray16Model, color.YCbCrModel, color.CMYKModel:
		return false
	}
	return true
}
