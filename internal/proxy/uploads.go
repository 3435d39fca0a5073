package proxy

import (
	"net/http"
	"path"
	"strings"
)

// uploadTypes covers the media the content service stores but does not
// always label.
var uploadTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".m4v":  "video/x-m4v",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

func isUploadPath(p string) bool {
	return strings.Contains(p, "/uploads/")
}

// repairUploadHeaders labels upload responses that arrive without a
// Content-Type and lets players on other origins embed them.
func repairUploadHeaders(h http.Header, requestPath string) {
	if !isUploadPath(requestPath) {
		return
	}
	h.Set("Cross-Origin-Resource-Policy", "cross-origin")
	if h.Get("Content-Type") != "" {
		return
	}
	if ct, ok := uploadTypes[strings.ToLower(path.Ext(requestPath))]; ok {
		h.Set("Content-Type", ct)
	}
}
