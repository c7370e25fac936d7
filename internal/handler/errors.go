package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"stockcount-sync-api/internal/syncerr"
	"stockcount-sync-api/pkg/apierror"
	"stockcount-sync-api/pkg/response"
)

const maxBodyBytes = 8 << 20

// toAPIError maps a domain error onto the HTTP error envelope.
func toAPIError(err error) *apierror.Error {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	e, ok := syncerr.As(err)
	if !ok {
		log.Error().Err(err).Msg("unclassified error")
		return apierror.InternalError("")
	}

	switch e.Kind {
	case syncerr.KindValidation:
		return apierror.BadRequest(e.Error())
	case syncerr.KindDuplicateResource, syncerr.KindLockConflict:
		out := apierror.Conflict(e.Error())
		out.Code = strings.ToUpper(string(e.Kind))
		return out
	case syncerr.KindNotFound:
		return apierror.NotFound(e.Error())
	case syncerr.KindInvalidResolution:
		return apierror.UnprocessableEntity("INVALID_RESOLUTION", e.Error())
	case syncerr.KindAdmissionDenied:
		if e.Reason == "rate_limited" {
			return apierror.TooManyRequests(e.Error(), e.RetryAfterSeconds()).WithQuota(e.Limit, e.Remaining)
		}
		out := apierror.ServiceUnavailable(e.Error()).WithRetryAfter(e.RetryAfterSeconds())
		out.Code = "CIRCUIT_OPEN"
		return out
	case syncerr.KindTransientStore:
		log.Warn().Err(err).Msg("transient store error")
		return apierror.ServiceUnavailable("storage temporarily unavailable")
	}
	return apierror.InternalError("")
}

// writeError renders err, adding the quota headers on admission denials.
func writeError(w http.ResponseWriter, err error) {
	apiErr := toAPIError(err)
	if apiErr.Limit != nil {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(*apiErr.Limit))
	}
	if apiErr.Remaining != nil {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(*apiErr.Remaining))
	}
	response.Error(w, apiErr)
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apierror.BadRequest("invalid JSON: " + err.Error())
	}
	return nil
}
