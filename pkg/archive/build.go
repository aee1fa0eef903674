// Package archive packs a file or directory tree into an in-memory zip
// container and unpacks it again.
package archive

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/trace"
)

// Event reports progress through an archive, one per entry.
type Event struct {
	// Index is the 1-based position of the entry; Total is the entry count.
	Index, Total int
	Name         string
	// Start and End bound the entry's compressed data within the archive.
	// They are zero while building.
	Start, End int64
}

// BuildOptions configures Build.
type BuildOptions struct {
	Method Method
	// Exclude lists absolute paths that are never archived, such as the
	// raster being written inside the source tree.
	Exclude []string
	// Progress, if set, is called after each entry is written.
	Progress func(Event)
}

// Archive is a built container.
type Archive struct {
	Data   []byte
	Origin Origin
	// Entries is the number of entries written.
	Entries int
	// Size is the total uncompressed size of all regular files.
	Size int64
}

type buildItem struct {
	path string
	rel  string
	info fs.FileInfo
}

// Build archives src. A directory contributes every regular file and empty
// subdirectory under it with slash-separated relative names; a single file
// contributes one entry named by its base name. Symbolic links and special
// files are skipped.
func Build(ctx context.Context, src string, opts BuildOptions) (*Archive, error) {
	log := trace.FromContext(ctx).WithPrefix("ARCHIVE")

	if err := opts.Method.Valid(); err != nil {
		err := failure.Wrap(failure.InvalidInput, "build archive", err, "invalid method")
		log.Error(err)
		return nil, err
	}

	info, origin, err := ValidateSource(ctx, src)
	if err != nil {
		return nil, err
	}

	items, size, err := collect(ctx, src, info, opts.Exclude)
	if err != nil {
		return nil, err
	}
	log.Infof("Archiving %d entries (%d bytes) from %s using %s", len(items), size, src, opts.Method)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	registerCompressor(zw, opts.Method, lzmaDictCap(size))

	for i, it := range items {
		if err := canceled(ctx, "build archive"); err != nil {
			log.Error(err)
			return nil, err
		}
		if err := addEntry(zw, it, opts.Method); err != nil {
			log.Error(err)
			return nil, err
		}
		log.Debugf("Added %s (%d bytes)", it.rel, it.info.Size())
		if opts.Progress != nil {
			opts.Progress(Event{Index: i + 1, Total: len(items), Name: it.rel})
		}
	}

	if err := zw.Close(); err != nil {
		err := failure.Wrap(failure.IOError, "build archive", err, "failed to finish archive")
		log.Error(err)
		return nil, err
	}

	log.Debugf("Archive complete: %d bytes", buf.Len())
	return &Archive{
		Data:    buf.Bytes(),
		Origin:  origin,
		Entries: len(items),
		Size:    size,
	}, nil
}

// collect enumerates the entries of src before anything is compressed so
// progress can be reported against a known total.
func collect(ctx context.Context, src string, info fs.FileInfo, exclude []string) ([]buildItem, int64, error) {
	log := trace.FromContext(ctx).WithPrefix("ARCHIVE")

	if !info.IsDir() {
		return []buildItem{{path: src, rel: filepath.Base(src), info: info}}, info.Size(), nil
	}

	skip := make(map[string]bool, len(exclude))
	for _, p := range exclude {
		if abs, err := filepath.Abs(p); err == nil {
			skip[abs] = true
		}
	}

	var items []buildItem
	var size int64
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == src {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil && skip[abs] {
			log.Debugf("Skipping excluded path: %s", path)
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.Type()&fs.ModeSymlink != 0 {
			log.Debugf("Skipping symbolic link: %s", rel)
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() {
			children, err := os.ReadDir(path)
			if err != nil {
				return err
			}
			if len(children) == 0 {
				items = append(items, buildItem{path: path, rel: rel + "/", info: fi})
			}
			return nil
		}
		if !fi.Mode().IsRegular() {
			log.Debugf("Skipping special file: %s", rel)
			return nil
		}

		items = append(items, buildItem{path: path, rel: rel, info: fi})
		size += fi.Size()
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = failure.Wrap(failure.Canceled, "build archive", ctxErr, "operation canceled")
		} else {
			err = failure.Wrap(failure.IOError, "build archive", err, "failed to enumerate %s", src)
		}
		log.Error(err)
		return nil, 0, err
	}
	return items, size, nil
}

func addEntry(zw *zip.Writer, it buildItem, m Method) error {
	hdr, err := zip.FileInfoHeader(it.info)
	if err != nil {
		return failure.Wrap(failure.IOError, "build archive", err, "failed to create header for %s", it.rel)
	}
	hdr.Name = it.rel

	if strings.HasSuffix(it.rel, "/") {
		hdr.Method = zip.Store
		if _, err := zw.CreateHeader(hdr); err != nil {
			return failure.Wrap(failure.IOError, "build archive", err, "failed to add directory %s", it.rel)
		}
		return nil
	}

	hdr.Method = m.ZipMethod()
	if hdr.Method == zipMethodLZMA {
		hdr.Flags |= lzmaZipFlagEOS
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return failure.Wrap(failure.IOError, "build archive", err, "failed to add %s", it.rel)
	}

	f, err := os.Open(it.path)
	if err != nil {
		return failure.Wrap(failure.IOError, "build archive", err, "failed to open %s", it.path)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return failure.Wrap(failure.IOError, "build archive", err, "failed to compress %s", it.path)
	}
	return nil
}
