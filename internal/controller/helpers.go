package controller

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var validate = validator.New()

const maxBodyBytes = 1 << 20

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domainErrors.ErrEstimateNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrLeadNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
	{domainErrors.ErrEstimateNotPayable, http.StatusConflict, "estimate_not_payable"},
	{domainErrors.ErrEstimateExpired, http.StatusUnprocessableEntity, "estimate_expired"},
	{domainErrors.ErrNothingToPay, http.StatusUnprocessableEntity, "nothing_to_pay"},
	{domainErrors.ErrInvalidPaymentType, http.StatusBadRequest, "invalid_payment_type"},
	{domainErrors.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{domainErrors.ErrCheckoutInProgress, http.StatusConflict, "checkout_in_progress"},
	{domainErrors.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_request"},
	{domainErrors.ErrInvalidStateTransition, http.StatusConflict, "invalid_state_transition"},
	{domainErrors.ErrOptimisticLockFailed, http.StatusConflict, "conflict"},
	{domainErrors.ErrTransactionRetriesExhausted, http.StatusConflict, "conflict"},
	{domainErrors.ErrLockAcquisitionFailed, http.StatusConflict, "in_progress"},
	{domainErrors.ErrInvalidSignature, http.StatusBadRequest, "invalid_signature"},
	{domainErrors.ErrCircuitOpen, http.StatusServiceUnavailable, "circuit_open"},
	{domainErrors.ErrProcessorUnavailable, http.StatusServiceUnavailable, "processor_unavailable"},
}

// kindMappings covers classified errors that match no sentinel.
var kindMappings = map[domainErrors.Kind]errorMapping{
	domainErrors.KindTimeout:         {nil, http.StatusGatewayTimeout, "upstream_timeout"},
	domainErrors.KindRateLimit:       {nil, http.StatusTooManyRequests, "upstream_rate_limited"},
	domainErrors.KindTransient:       {nil, http.StatusBadGateway, "upstream_error"},
	domainErrors.KindExternalService: {nil, http.StatusBadGateway, "upstream_error"},
	domainErrors.KindStructural:      {nil, http.StatusBadGateway, "upstream_malformed"},
	domainErrors.KindCircuitOpen:     {nil, http.StatusServiceUnavailable, "circuit_open"},
	domainErrors.KindConflict:        {nil, http.StatusConflict, "conflict"},
	domainErrors.KindValidation:      {nil, http.StatusBadRequest, "validation_error"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{Error: err.Error()}

	var validationErr *domainErrors.ValidationError
	if errors.As(err, &validationErr) {
		resp.Code = "validation_error"
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			resp.Code = m.code
			if m.code == "conflict" {
				resp.Error = "concurrent modification, please retry"
			}
			writeJSON(w, m.status, resp)
			return
		}
	}

	var domainErr *domainErrors.DomainError
	if errors.As(err, &domainErr) {
		resp.Code = domainErr.Code
		resp.Error = domainErr.Message
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	if m, ok := kindMappings[domainErrors.KindOf(err)]; ok {
		if d, ok := domainErrors.RetryAfterOf(err); ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
		}
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("code", m.code).Msg("downstream failure in handler")
		resp.Code = m.code
		writeJSON(w, m.status, resp)
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Msg("unhandled error in handler")
	resp.Code = "internal_error"
	resp.Error = "internal server error"
	writeJSON(w, http.StatusInternalServerError, resp)
}

func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return domainErrors.NewValidationError("body", "invalid JSON: "+err.Error())
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domainErrors.NewValidationError(ve[0].Field(), ve[0].Tag()+" validation failed")
		}
		return domainErrors.NewValidationError("body", err.Error())
	}
	return nil
}

func idParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domainErrors.NewValidationError(name, "must be a UUID")
	}
	return id, nil
}

// maxAmountFloat is the largest major-unit amount whose minor-unit value fits in an int64.
const maxAmountFloat = float64(math.MaxInt64) / 100

// floatToCents converts a major-unit amount to minor units, rounding to the nearest cent.
func floatToCents(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("amount is not a finite number: %w", domainErrors.ErrInvalidAmount)
	}
	if f <= 0 {
		return 0, fmt.Errorf("amount must be positive: %w", domainErrors.ErrInvalidAmount)
	}
	if f > maxAmountFloat {
		return 0, fmt.Errorf("amount too large: %w", domainErrors.ErrInvalidAmount)
	}
	return int64(math.Round(f * 100)), nil
}

func centsToFloat(cents int64) float64 {
	return float64(cents) / 100.0
}
