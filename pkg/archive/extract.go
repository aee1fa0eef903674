package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/trace"
)

// Entry describes one archive member.
type Entry struct {
	Name           string
	Size           uint64
	CompressedSize uint64
	ZipMethod      uint16
	IsDir          bool
}

// ExtractOptions configures Extract.
type ExtractOptions struct {
	// AsFile writes a single-file archive to the destination path itself
	// instead of into a directory.
	AsFile bool
	// Progress, if set, is called after each entry is written.
	Progress func(Event)
}

// Open parses data as an archive.
func Open(ctx context.Context, data []byte) (*zip.Reader, error) {
	log := trace.FromContext(ctx).WithPrefix("ARCHIVE")

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		head := data[:min(len(data), 16)]
		err := failure.Wrap(failure.CorruptPayload, "open archive", err, "payload is not an archive").
			WithDetail("len=%d head=%x", len(data), head)
		log.Error(err)
		return nil, err
	}
	registerDecompressors(zr)
	return zr, nil
}

// List returns the entries of the archive in data.
func List(ctx context.Context, data []byte) ([]Entry, error) {
	zr, err := Open(ctx, data)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		out = append(out, Entry{
			Name:           f.Name,
			Size:           f.UncompressedSize64,
			CompressedSize: f.CompressedSize64,
			ZipMethod:      f.Method,
			IsDir:          strings.HasSuffix(f.Name, "/"),
		})
	}
	return out, nil
}

// Extract unpacks data into dest. Entries are first written to a staging
// directory beside dest and moved into place only after all of them have
// been extracted, so a failure leaves dest untouched.
func Extract(ctx context.Context, data []byte, dest string, opts ExtractOptions) error {
	log := trace.FromContext(ctx).WithPrefix("ARCHIVE")

	zr, err := Open(ctx, data)
	if err != nil {
		return err
	}
	for _, f := range zr.File {
		if _, err := safeJoin(dest, f.Name); err != nil {
			err := failure.Wrap(failure.CorruptPayload, "extract archive", err, "archive contains an unsafe path")
			log.Error(err)
			return err
		}
	}

	if opts.AsFile && len(zr.File) == 1 && !strings.HasSuffix(zr.File[0].Name, "/") {
		return extractFile(ctx, zr.File[0], dest, opts.Progress)
	}
	return extractTree(ctx, zr.File, dest, opts.Progress)
}

func extractFile(ctx context.Context, f *zip.File, dest string, progress func(Event)) error {
	log := trace.FromContext(ctx).WithPrefix("ARCHIVE")
	log.Debugf("Extracting single entry %s to %s", f.Name, dest)

	if err := canceled(ctx, "extract archive"); err != nil {
		log.Error(err)
		return err
	}

	dir := filepath.Dir(dest)
	if err := PrepareDestination(ctx, dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".pixvault-*")
	if err != nil {
		err := failure.Wrap(failure.IOError, "extract archive", err, "failed to create temporary file in %s", dir)
		log.Error(err)
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()

	if err := writeEntry(f, tmpPath); err != nil {
		os.Remove(tmpPath)
		log.Error(err)
		return err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		err := failure.Wrap(failure.IOError, "extract archive", err, "failed to move %s into place", dest)
		log.Error(err)
		return err
	}

	if progress != nil {
		progress(entryEvent(f, 1, 1))
	}
	return nil
}

func extractTree(ctx context.Context, files []*zip.File, dest string, progress func(Event)) error {
	log := trace.FromContext(ctx).WithPrefix("ARCHIVE")

	parent := filepath.Dir(filepath.Clean(dest))
	if err := PrepareDestination(ctx, parent); err != nil {
		return err
	}
	staging, err := os.MkdirTemp(parent, ".pixvault-*")
	if err != nil {
		err := failure.Wrap(failure.IOError, "extract archive", err, "failed to create staging directory in %s", parent)
		log.Error(err)
		return err
	}
	defer os.RemoveAll(staging)
	log.Debugf("Extracting %d entries via %s", len(files), staging)

	for i, f := range files {
		if err := canceled(ctx, "extract archive"); err != nil {
			log.Error(err)
			return err
		}

		target, _ := safeJoin(staging, f.Name)
		if strings.HasSuffix(f.Name, "/") {
			if err := os.MkdirAll(target, 0755); err != nil {
				err := failure.Wrap(failure.IOError, "extract archive", err, "failed to create %s", f.Name)
				log.Error(err)
				return err
			}
		} else {
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				err := failure.Wrap(failure.IOError, "extract archive", err, "failed to create parent of %s", f.Name)
				log.Error(err)
				return err
			}
			if err := writeEntry(f, target); err != nil {
				log.Error(err)
				return err
			}
		}

		log.Debugf("Extracted %s (%d bytes)", f.Name, f.UncompressedSize64)
		if progress != nil {
			progress(entryEvent(f, i+1, len(files)))
		}
	}

	if err := PrepareDestination(ctx, dest); err != nil {
		return err
	}
	if err := merge(staging, dest); err != nil {
		err := failure.Wrap(failure.IOError, "extract archive", err, "failed to move extracted entries into %s", dest)
		log.Error(err)
		return err
	}
	return nil
}

// writeEntry decompresses f into path, then applies its mode and mtime.
func writeEntry(f *zip.File, path string) error {
	rc, err := f.Open()
	if err != nil {
		return failure.Wrap(failure.CorruptPayload, "extract archive", err, "cannot read entry %s", f.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return failure.Wrap(failure.IOError, "extract archive", err, "failed to create %s", path)
	}

	ew := &errWriter{w: out}
	_, copyErr := io.Copy(ew, rc)
	closeErr := out.Close()
	switch {
	case ew.err != nil:
		return failure.Wrap(failure.IOError, "extract archive", ew.err, "failed to write %s", path)
	case copyErr != nil:
		return failure.Wrap(failure.CorruptPayload, "extract archive", copyErr, "entry %s is damaged", f.Name)
	case closeErr != nil:
		return failure.Wrap(failure.IOError, "extract archive", closeErr, "failed to close %s", path)
	}

	if perm := f.Mode().Perm(); perm != 0 {
		if err := os.Chmod(path, perm); err != nil {
			return failure.Wrap(failure.IOError, "extract archive", err, "failed to set mode on %s", path)
		}
	}
	if mt := f.Modified; !mt.IsZero() {
		if err := os.Chtimes(path, mt, mt); err != nil {
			return failure.Wrap(failure.IOError, "extract archive", err, "failed to set times on %s", path)
		}
	}
	return nil
}

type mergeOp struct {
	from, to string
	dir      bool
	// replace is set when a regular file already exists at to.
	replace bool
}

// merge moves the contents of staging into dest, replacing files that
// already exist there. Type conflicts are detected before anything moves,
// and if a move fails part way every earlier step is undone.
func merge(staging, dest string) error {
	ops, err := planMerge(staging, dest)
	if err != nil {
		return err
	}

	backup, err := os.MkdirTemp(filepath.Dir(filepath.Clean(dest)), ".pixvault-old-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(backup)

	var undo []func()
	fail := func(err error) error {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
		return err
	}

	for i, op := range ops {
		if op.dir {
			if _, err := os.Lstat(op.to); err == nil {
				continue
			}
			if err := os.Mkdir(op.to, 0755); err != nil {
				return fail(err)
			}
			undo = append(undo, func() { os.Remove(op.to) })
			continue
		}
		if op.replace {
			saved := filepath.Join(backup, strconv.Itoa(i))
			if err := os.Rename(op.to, saved); err != nil {
				return fail(err)
			}
			undo = append(undo, func() { os.Rename(saved, op.to) })
		}
		if err := os.Rename(op.from, op.to); err != nil {
			return fail(err)
		}
		undo = append(undo, func() { os.Remove(op.to) })
	}
	return nil
}

// planMerge lists the moves merge will make, parents before children, and
// rejects targets whose type differs from the staged entry.
func planMerge(staging, dest string) ([]mergeOp, error) {
	var ops []mergeOp
	err := filepath.WalkDir(staging, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(staging, path)
		if err != nil || rel == "." {
			return err
		}
		op := mergeOp{from: path, to: filepath.Join(dest, rel), dir: d.IsDir()}
		st, err := os.Lstat(op.to)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return err
		case op.dir && !st.IsDir():
			return fmt.Errorf("%s exists and is not a directory", op.to)
		case !op.dir && !st.Mode().IsRegular():
			return fmt.Errorf("%s exists and is not a regular file", op.to)
		default:
			op.replace = !op.dir
		}
		ops = append(ops, op)
		return nil
	})
	return ops, err
}

func entryEvent(f *zip.File, index, total int) Event {
	ev := Event{Index: index, Total: total, Name: f.Name}
	if off, err := f.DataOffset(); err == nil {
		ev.Start = off
		ev.End = off + int64(f.CompressedSize64)
	}
	return ev
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil {
		e.err = err
	}
	return n, err
}
