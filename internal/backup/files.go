package backup

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const placeholderFilename = "unnamed_file"

const maxFilenameBytes = 255

// sanitizeFilename makes a name safe on every platform: characters invalid
// on Windows and any non-printable rune become underscores, overlong names
// are truncated to 255 bytes with the extension preserved, and an empty
// result falls back to a placeholder.
func sanitizeFilename(filename string) string {
	if filename == "" {
		return placeholderFilename
	}

	var b strings.Builder
	b.Grow(len(filename))
	for _, r := range filename {
		if strings.ContainsRune(`<>:"/\|?*`, r) || !unicode.IsPrint(r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	filename = b.String()

	if len(filename) > maxFilenameBytes {
		ext := filepath.Ext(filename)
		if len(ext) >= maxFilenameBytes {
			ext = ""
		}
		base := filename[:len(filename)-len(ext)]
		base = truncateUTF8(base, maxFilenameBytes-len(ext))
		filename = base + ext
	}

	if strings.TrimSpace(filename) == "" {
		return placeholderFilename
	}
	return filename
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// mimeExtensions maps the MIME types WordPress commonly serves to file
// extensions, for media records whose filename cannot be derived otherwise.
var mimeExtensions = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
	"image/bmp":     ".bmp",
	"image/tiff":    ".tiff",
	"application/pdf": ".pdf",
	"video/mp4":       ".mp4",
	"video/quicktime": ".mov",
	"video/x-msvideo": ".avi",
	"video/x-ms-wmv":  ".wmv",
	"audio/mpeg":      ".mp3",
	"audio/wav":       ".wav",
	"audio/ogg":       ".ogg",
	"audio/midi":      ".midi",
	"application/zip":              ".zip",
	"application/x-rar-compressed": ".rar",
	"application/x-tar":            ".tar",
	"application/x-gzip":           ".gz",
	"application/msword":           ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.ms-powerpoint": ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"text/plain":       ".txt",
	"text/html":        ".html",
	"text/css":         ".css",
	"text/javascript":  ".js",
	"application/json": ".json",
	"application/xml":  ".xml",
}

// extensionForMime guesses a file extension from a MIME type; unknown
// types get .bin.
func extensionForMime(mimeType string) string {
	if ext, ok := mimeExtensions[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return ".bin"
}

// mediaSubfolder derives a year/month subfolder from a record date. The
// REST API emits ISO-8601 with or without an offset and sometimes with a
// trailing Z; anything unparseable just means no subfolder.
func mediaSubfolder(date string) string {
	if date == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, date); err == nil {
			return t.Format("2006/01")
		}
	}
	return ""
}
