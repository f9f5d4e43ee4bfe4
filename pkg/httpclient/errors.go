package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/utafrali/storefront/pkg/errors"
)

const maxBodyBytes = 1 << 20

// errorBody is the error half of the httputil response envelope.
type errorBody struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeJSON decodes a 2xx body into v and converts any other status with
// ResponseError. The body is always closed.
func DecodeJSON(resp *http.Response, v any, upstream string) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ResponseError(resp, upstream)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode %s response: %w", upstream, err)
	}
	return nil
}

// ResponseError converts a non-2xx response into an error. The message of an
// envelope-shaped body is kept, and statuses the storefront answers with
// itself map onto the matching apperrors kinds.
func ResponseError(resp *http.Response, upstream string) error {
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s returned %d: read body: %w", upstream, resp.StatusCode, err)
	}

	msg := strings.TrimSpace(string(raw))
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error != nil {
		msg = body.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	qualified := upstream + ": " + msg

	switch resp.StatusCode {
	case http.StatusNotFound:
		return &apperrors.AppError{Code: "NOT_FOUND", Message: qualified, Status: resp.StatusCode, Err: apperrors.ErrNotFound}
	case http.StatusBadRequest:
		return apperrors.InvalidInput(qualified)
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.Unauthorized(qualified)
	case http.StatusUnprocessableEntity:
		return apperrors.Unprocessable(qualified, nil)
	case http.StatusServiceUnavailable:
		return apperrors.ServiceUnavailable(qualified)
	default:
		return fmt.Errorf("%s returned %d: %s", upstream, resp.StatusCode, msg)
	}
}
