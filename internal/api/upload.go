package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// Upload limits for the two media endpoints.
const (
	maxAudioSize = 15 << 20 // 15 MiB
	maxPhotoSize = 10 << 20 // 10 MiB
)

// Multipart field names for media uploads.
const (
	audioFieldName = "audio"
	photoFieldName = "photo"
)

// allowedImageTypes is the set of MIME types accepted for uploaded photos.
// net/http.DetectContentType handles JPEG, PNG, and GIF via magic-byte
// sniffing. WebP is detected separately because the stdlib sniffer has no
// WebP signature.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// isWebP reports whether data is a WebP image (RIFF container with "WEBP" at
// offset 8).
func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// readUpload reads the media payload of a request: from the named multipart
// form field when the request is multipart, or from the raw body otherwise.
// The payload is limited to maxSize bytes either way.
func readUpload(w http.ResponseWriter, r *http.Request, field string, maxSize int64) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxSize); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile(field)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	return io.ReadAll(r.Body)
}

// uploadErrorStatus maps a readUpload failure to a response status and message.
func uploadErrorStatus(err error) (int, string) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return http.StatusRequestEntityTooLarge, "Upload too large"
	}
	return http.StatusBadRequest, "Invalid upload"
}
