// Package archive packs a finished backup directory into a single file.
package archive

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Supported archive formats.
const (
	FormatZip    = "zip"
	FormatTarGz  = "tar.gz"
	FormatTarZst = "tar.zst"
)

// Create packs dir into a sibling archive named <dir>.<format> and returns
// its path. Entry names are prefixed with the directory base name, so the
// archive unpacks into a single folder.
func Create(format, dir string) (string, error) {
	switch format {
	case FormatZip:
		return createZip(dir)
	case FormatTarGz, FormatTarZst:
		return createTar(format, dir)
	default:
		return "", fmt.Errorf("unsupported archive format: %s", format)
	}
}

func createZip(dir string) (string, error) {
	out := dir + ".zip"
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create archive %q: %w", out, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = walkFiles(dir, func(rel, abs string, info fs.FileInfo) error {
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = rel
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		return copyFile(w, abs)
	})
	if err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("finalize archive %q: %w", out, err)
	}
	return out, nil
}

func createTar(format, dir string) (string, error) {
	out := dir + ".tar.gz"
	if format == FormatTarZst {
		out = dir + ".tar.zst"
	}
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create archive %q: %w", out, err)
	}
	defer f.Close()

	var cw io.WriteCloser
	if format == FormatTarGz {
		cw = gzip.NewWriter(f)
	} else {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return "", fmt.Errorf("create zstd writer: %w", err)
		}
		cw = zw
	}

	tw := tar.NewWriter(cw)
	err = walkFiles(dir, func(rel, abs string, info fs.FileInfo) error {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		return copyFile(tw, abs)
	})
	if err != nil {
		return "", err
	}
	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("finalize tar %q: %w", out, err)
	}
	if err := cw.Close(); err != nil {
		return "", fmt.Errorf("finalize compressor %q: %w", out, err)
	}
	return out, nil
}

// walkFiles visits every regular file under dir with its archive entry
// name (base-dir prefixed, forward slashes).
func walkFiles(dir string, fn func(rel, abs string, info fs.FileInfo) error) error {
	base := filepath.Base(dir)
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(base+"/"+filepath.ToSlash(rel), p, info)
	})
}

func copyFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
