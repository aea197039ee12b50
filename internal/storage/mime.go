package storage

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

var extByMime = map[string]string{
	"image/png":       "png",
	"image/jpeg":      "jpg",
	"image/jpg":       "jpg",
	"image/webp":      "webp",
	"image/gif":       "gif",
	"video/mp4":       "mp4",
	"video/webm":      "webm",
	"video/quicktime": "mov",
}

var mimeByExt = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
	"gif":  "image/gif",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
}

// Extension picks a file extension from the mime type, then the URL path,
// then fallback.
func Extension(mimeType, rawURL, fallback string) string {
	mt := strings.ToLower(strings.TrimSpace(strings.Split(mimeType, ";")[0]))
	if ext, ok := extByMime[mt]; ok {
		return ext
	}
	if ext := urlExtension(rawURL); ext != "" {
		if _, ok := mimeByExt[ext]; ok {
			if ext == "jpeg" {
				return "jpg"
			}
			return ext
		}
	}
	return fallback
}

// MimeType resolves a content type from an explicit value, the URL extension,
// or by sniffing data.
func MimeType(explicit, rawURL string, data []byte) string {
	if mt := strings.TrimSpace(strings.Split(explicit, ";")[0]); mt != "" && mt != "application/octet-stream" {
		return strings.ToLower(mt)
	}
	if mt, ok := mimeByExt[urlExtension(rawURL)]; ok {
		return mt
	}
	if len(data) > 0 {
		return strings.Split(http.DetectContentType(data), ";")[0]
	}
	return "application/octet-stream"
}

func urlExtension(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}
