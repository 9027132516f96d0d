package constants

import "strings"

// MIME types served and stored by tsad
const (
	MimeTypeJSON       = "application/json"
	MimeTypeCSV        = "text/csv"
	MimeTypePlainText  = "text/plain"
	MimeTypeCheckpoint = "application/x-tsad-checkpoint"
)

// HTTP headers
const (
	HeaderContentType  = "Content-Type"
	HeaderRequestID    = "X-Request-ID"
	HeaderForwardedFor = "X-Forwarded-For"
	HeaderRealIP       = "X-Real-IP"
)

var formatMimeTypes = map[string]string{
	FormatCSV:  MimeTypeCSV,
	FormatJSON: MimeTypeJSON,
}

// GetMimeTypeByFormat returns the MIME type of an output format, or
// text/plain for unknown formats
func GetMimeTypeByFormat(format string) string {
	if mimeType, ok := formatMimeTypes[strings.ToLower(format)]; ok {
		return mimeType
	}
	return MimeTypePlainText
}

// IsOutputFormat reports whether format is a supported score output format
func IsOutputFormat(format string) bool {
	_, ok := formatMimeTypes[strings.ToLower(format)]
	return ok
}
