package media

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/Athena-vivi/LMSY.space-sub002/internal/ingest"
)

var extByContentType = map[string]string{
	"image/jpeg":      "jpg",
	"image/jpg":       "jpg",
	"image/pjpeg":     "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"image/avif":      "avif",
	"image/heic":      "heic",
	"image/svg+xml":   "svg",
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"video/webm":      "webm",
	"video/x-m4v":     "m4v",
}

var contentTypeByExt = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"avif": "image/avif",
	"heic": "image/heic",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"m4v":  "video/x-m4v",
}

// ExtFromURL returns the known media extension of a URL path, or "".
func ExtFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
	if ext == "jpeg" {
		return "jpg"
	}
	if _, ok := contentTypeByExt[ext]; ok {
		return ext
	}
	// twimg style: /media/abc?format=jpg&name=large
	if f := strings.ToLower(u.Query().Get("format")); f != "" {
		if _, ok := contentTypeByExt[f]; ok {
			return f
		}
	}
	return ""
}

// MediaTypeFromURL guesses image or video from a URL extension.
func MediaTypeFromURL(rawURL string) ingest.MediaType {
	switch ExtFromURL(rawURL) {
	case "mp4", "mov", "webm", "m4v":
		return ingest.MediaVideo
	default:
		return ingest.MediaImage
	}
}

// resolveContentType settles the media content type from the response header,
// a body sniff, and finally the URL extension. ok is false when the payload is
// not an image or video.
func resolveContentType(header string, body []byte, rawURL string) (contentType string, ok bool) {
	ct := baseType(header)
	if isMedia(ct) {
		return ct, true
	}
	sniffed := baseType(http.DetectContentType(body))
	if isMedia(sniffed) {
		return sniffed, true
	}
	// Origins commonly mislabel media as octet-stream; trust the extension only then.
	if ct == "" || ct == "application/octet-stream" || ct == "binary/octet-stream" {
		if byExt, found := contentTypeByExt[ExtFromURL(rawURL)]; found {
			return byExt, true
		}
	}
	return ct, false
}

func baseType(ct string) string {
	if ct == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(ct, ";")[0]))
	}
	return mediaType
}

func isMedia(ct string) bool {
	return strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "video/")
}

func describe(contentType string, rawURL string) (ext string, kind ingest.MediaType) {
	ext = extByContentType[contentType]
	if ext == "" {
		ext = ExtFromURL(rawURL)
	}
	if ext == "" {
		ext = "bin"
	}
	kind = ingest.MediaImage
	if strings.HasPrefix(contentType, "video/") {
		kind = ingest.MediaVideo
	}
	return ext, kind
}
