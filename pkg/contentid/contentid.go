// Package contentid derives deterministic blob identifiers from content and
// media type: the hex SHA-256 of the bytes plus a canonical file extension.
package contentid

import (
	"crypto/sha256"
	"encoding/hex"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// GenericExtension is used when a media type has no known extension.
	GenericExtension = "bin"
	// GenericMediaType is reported for ids whose extension is unknown.
	GenericMediaType = "application/octet-stream"
)

// extensions maps a bare, lower-case media type to its canonical extension.
// The table is fixed so ids stay identical across hosts; the system mime
// database varies between machines.
var extensions = map[string]string{
	"text/plain":      "txt",
	"text/html":       "html",
	"text/css":        "css",
	"text/csv":        "csv",
	"text/markdown":   "md",
	"text/xml":        "xml",
	"text/javascript": "js",
	"text/calendar":   "ics",

	"application/javascript":      "js",
	"application/json":            "json",
	"application/ld+json":         "jsonld",
	"application/xml":             "xml",
	"application/pdf":             "pdf",
	"application/zip":             "zip",
	"application/gzip":            "gz",
	"application/x-tar":           "tar",
	"application/x-7z-compressed": "7z",
	"application/wasm":            "wasm",
	"application/msword":          "doc",
	"application/octet-stream":    GenericExtension,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",

	"image/png":     "png",
	"image/jpeg":    "jpg",
	"image/gif":     "gif",
	"image/webp":    "webp",
	"image/svg+xml": "svg",
	"image/bmp":     "bmp",
	"image/tiff":    "tif",
	"image/x-icon":  "ico",
	"image/avif":    "avif",

	"audio/mpeg":      "mp3",
	"audio/ogg":       "oga",
	"audio/wav":       "wav",
	"audio/webm":      "weba",
	"audio/flac":      "flac",
	"video/mp4":       "mp4",
	"video/mpeg":      "mpeg",
	"video/ogg":       "ogv",
	"video/webm":      "webm",
	"video/quicktime": "mov",

	"font/woff":  "woff",
	"font/woff2": "woff2",
	"font/ttf":   "ttf",
	"font/otf":   "otf",
}

// mediaTypes is the reverse of extensions, plus common aliases.
var mediaTypes = func() map[string]string {
	m := make(map[string]string, len(extensions)+8)
	for mt, ext := range extensions {
		m[ext] = mt
	}
	// Extensions claimed by two types above resolve to the registered one.
	m["js"] = "application/javascript"
	m["xml"] = "application/xml"
	m["jpeg"] = "image/jpeg"
	m["htm"] = "text/html"
	m["tiff"] = "image/tiff"
	m["text"] = "text/plain"
	return m
}()

// Hash returns the lower-case hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ExtensionFor maps a media type to its canonical extension without the
// leading dot. Parameters and letter case are ignored; unknown types map to
// GenericExtension.
func ExtensionFor(mediaType string) string {
	base := baseType(mediaType)
	if base == "" {
		return GenericExtension
	}
	if ext, ok := extensions[base]; ok {
		return ext
	}
	if m := mimetype.Lookup(base); m != nil {
		if ext := strings.TrimPrefix(m.Extension(), "."); ext != "" {
			return ext
		}
	}
	return GenericExtension
}

// MediaTypeFor recovers a media type from the extension of id.
func MediaTypeFor(id string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(id), "."))
	if mt, ok := mediaTypes[ext]; ok {
		return mt
	}
	return GenericMediaType
}

// DeriveID returns Hash(data) + "." + ExtensionFor(mediaType).
func DeriveID(data []byte, mediaType string) string {
	return Hash(data) + "." + ExtensionFor(mediaType)
}

func baseType(mediaType string) string {
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		return mt
	}
	base, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
