package archive

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rayozzie/pixvault/pkg/failure"
	"github.com/rayozzie/pixvault/pkg/trace"
)

// OriginKind records whether an archive was built from a file or a folder.
type OriginKind string

const (
	OriginFile    OriginKind = "file"
	OriginFolder  OriginKind = "folder"
	OriginUnknown OriginKind = "unknown"
)

// Origin describes the source an archive was built from.
type Origin struct {
	Kind OriginKind
	// Name is the base name of the source path.
	Name string
}

// ValidateSource checks that path names a regular file or a directory.
func ValidateSource(ctx context.Context, path string) (fs.FileInfo, Origin, error) {
	log := trace.FromContext(ctx).WithPrefix("SOURCE")
	log.Debugf("Validating source: %s", path)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			err = failure.Wrap(failure.NotFound, "validate source", err, "source does not exist: %s", path)
		} else {
			err = failure.Wrap(failure.IOError, "validate source", err, "cannot access source %s", path)
		}
		log.Error(err)
		return nil, Origin{}, err
	}

	origin := Origin{Name: filepath.Base(filepath.Clean(path))}
	switch {
	case info.IsDir():
		origin.Kind = OriginFolder
	case info.Mode().IsRegular():
		origin.Kind = OriginFile
	default:
		err := failure.New(failure.InvalidInput, "validate source", "source is neither a file nor a directory: %s", path)
		log.Error(err)
		return nil, Origin{}, err
	}

	log.Debugf("Source is a %s: %s", origin.Kind, path)
	return info, origin, nil
}

// PrepareDestination ensures dir exists as a directory, creating it if needed.
func PrepareDestination(ctx context.Context, dir string) error {
	log := trace.FromContext(ctx).WithPrefix("SOURCE")
	log.Debugf("Preparing destination directory: %s", dir)

	stat, err := os.Stat(dir)
	switch {
	case err == nil && !stat.IsDir():
		err := failure.New(failure.InvalidInput, "prepare destination", "destination exists but is not a directory: %s", dir)
		log.Error(err)
		return err
	case err == nil:
		return nil
	case !os.IsNotExist(err):
		err := failure.Wrap(failure.IOError, "prepare destination", err, "cannot access destination %s", dir)
		log.Error(err)
		return err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		err := failure.Wrap(failure.IOError, "prepare destination", err, "failed to create destination %s", dir)
		log.Error(err)
		return err
	}
	log.Debugf("Destination directory created: %s", dir)
	return nil
}

func canceled(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return failure.Wrap(failure.Canceled, op, err, "operation canceled")
	}
	return nil
}

// safeJoin resolves an archive entry name under root, rejecting names that
// are absolute or climb out of it.
func safeJoin(root, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("illegal entry name %q", name)
	}
	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || clean == ".." || !filepath.IsLocal(clean) {
		return "", fmt.Errorf("illegal entry name %q", name)
	}
	return filepath.Join(root, clean), nil
}
