package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-boutique-orders/internal/domain"
	"github.com/ariefcatur/go-boutique-orders/internal/logx"
	"go.uber.org/zap"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind      domain.Kind           `json:"kind"`
	Message   string                `json:"message"`
	Retryable bool                  `json:"retryable"`
	Shortage  *domain.StockShortage `json:"shortage,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientStock, domain.KindInvalidTransition, domain.KindOrderNotPending, domain.KindConflict:
		return http.StatusConflict
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindUnauthorized:
		return http.StatusForbidden
	case domain.KindValidation, domain.KindEmptyCart:
		return http.StatusBadRequest
	case domain.KindExternalProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders a core error. Errors without a kind are logged and
// reported as a bare 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *domain.Error
	if !errors.As(err, &e) {
		logx.FromContext(r.Context(), nil).Error("request_failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Kind: "INTERNAL", Message: "internal error"}})
		return
	}
	writeJSON(w, statusFor(e.Kind), errorBody{Error: errorDetail{
		Kind:      e.Kind,
		Message:   e.Message,
		Retryable: e.Retryable,
		Shortage:  e.Shortage,
	}})
}
