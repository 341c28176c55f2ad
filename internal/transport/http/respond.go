package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"creditflow/internal/apperr"
	"creditflow/internal/logger"
)

type successEnvelope struct {
	Data any `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, successEnvelope{Data: data})
}

func writeError(ctx context.Context, log *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := apperr.As(err)
	if typed == nil {
		typed = apperr.Wrap(apperr.CodeInternal, err, "unexpected error")
	}
	meta := apperr.MetadataFor(typed.Code())

	payload := errorEnvelope{Error: apiError{Code: string(typed.Code()), Message: publicMessage(typed)}}
	if meta.DetailsAllowed {
		payload.Error.Details = typed.Details()
	}
	logRequestError(ctx, log, err, meta.HTTPStatus)
	writeJSON(w, meta.HTTPStatus, payload)
}

// publicMessage keeps internal wording out of 5xx responses.
func publicMessage(e *apperr.Error) string {
	meta := apperr.MetadataFor(e.Code())
	if meta.HTTPStatus >= http.StatusInternalServerError || e.Message() == "" {
		return meta.PublicMessage
	}
	return e.Message()
}

func logRequestError(ctx context.Context, log *logger.Logger, err error, status int) {
	if log == nil {
		return
	}
	ctx = log.WithFields(ctx, apperr.Dump(err).Fields())
	if status >= http.StatusInternalServerError {
		log.Error(ctx, "request.error", err)
		return
	}
	log.Warn(ctx, "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// decodeJSON reads a single JSON object and rejects unknown fields. Struct
// validation happens in the service layer.
func decodeJSON(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid request body").
			WithDetails(map[string]string{"body": err.Error()})
	}
	return nil
}
