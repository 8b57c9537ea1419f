package server

import (
	"errors"
	"net/http"

	"whisperflow/internal/services"
)

// statusFor maps a classified error onto an HTTP status.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	switch services.Details(err).Kind {
	case services.KindInvalidOptions:
		return http.StatusBadRequest
	case services.KindUnsupportedFileType:
		return http.StatusUnsupportedMediaType
	case services.KindMissingCredential:
		return http.StatusPreconditionFailed
	case services.KindUnsupportedLanguage:
		return http.StatusUnprocessableEntity
	case services.KindBusy:
		return http.StatusConflict
	case services.KindExternalTool:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
