package archive

import (
	"archive/tar"
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

func makeBackupDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "wp_backup_example_com_20250102_150405")
	files := map[string]string{
		"backup_info.json":  `{"status":"completed"}`,
		"posts/all.json":    `[{"id":1}]`,
		"media_files/a.jpg": "binary-ish",
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestCreateZip(t *testing.T) {
	dir := makeBackupDir(t)

	out, err := Create(FormatZip, dir)
	if err != nil {
		t.Fatal(err)
	}
	if out != dir+".zip" {
		t.Errorf("archive path = %q", out)
	}

	zr, err := zip.OpenReader(out)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()

	got := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		got[f.Name] = string(data)
	}

	base := filepath.Base(dir)
	if got[base+"/backup_info.json"] != `{"status":"completed"}` {
		t.Errorf("manifest entry = %q", got[base+"/backup_info.json"])
	}
	if got[base+"/posts/all.json"] != `[{"id":1}]` {
		t.Errorf("posts entry = %q", got[base+"/posts/all.json"])
	}
	if len(got) != 3 {
		t.Errorf("entries = %v", got)
	}
}

func TestCreateTarGzAndZst(t *testing.T) {
	for _, format := range []string{FormatTarGz, FormatTarZst} {
		t.Run(format, func(t *testing.T) {
			dir := makeBackupDir(t)

			out, err := Create(format, dir)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.HasSuffix(out, "."+format) {
				t.Errorf("archive path = %q", out)
			}

			f, err := os.Open(out)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()

			var r io.Reader
			if format == FormatTarGz {
				gr, err := gzip.NewReader(f)
				if err != nil {
					t.Fatal(err)
				}
				defer gr.Close()
				r = gr
			} else {
				zr, err := zstd.NewReader(f)
				if err != nil {
					t.Fatal(err)
				}
				defer zr.Close()
				r = zr
			}

			base := filepath.Base(dir)
			entries := make(map[string]string)
			tr := tar.NewReader(r)
			for {
				hdr, err := tr.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatal(err)
				}
				data, err := io.ReadAll(tr)
				if err != nil {
					t.Fatal(err)
				}
				entries[hdr.Name] = string(data)
			}
			if entries[base+"/media_files/a.jpg"] != "binary-ish" {
				t.Errorf("media entry missing: %v", entries)
			}
			if len(entries) != 3 {
				t.Errorf("entries = %v", entries)
			}
		})
	}
}

func TestCreateRejectsUnknownFormat(t *testing.T) {
	if _, err := Create("rar", t.TempDir()); err == nil {
		t.Error("unknown format should fail")
	}
}
