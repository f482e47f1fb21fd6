package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	ordererrors "boostpanel/contexts/fulfillment/order-service/domain/errors"
	orderhttp "boostpanel/contexts/fulfillment/order-service/transport/http"
)

func writeOrderError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, orderhttp.ErrorResponse{Code: code, Message: message})
}

func writeOrderDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ordererrors.ErrInvalidInput):
		writeOrderError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, ordererrors.ErrOrderNotFound):
		writeOrderError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, ordererrors.ErrInsufficientFunds):
		writeOrderError(w, http.StatusPaymentRequired, "insufficient_funds", err.Error())
	case errors.Is(err, ordererrors.ErrIllegalTransition):
		writeOrderError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, ordererrors.ErrOrderTerminal):
		writeOrderError(w, http.StatusConflict, "order_terminal", err.Error())
	case errors.Is(err, ordererrors.ErrOrderNotRefillable):
		writeOrderError(w, http.StatusConflict, "order_not_refillable", err.Error())
	case errors.Is(err, ordererrors.ErrTargetUnreachable):
		writeOrderError(w, http.StatusFailedDependency, "target_unreachable", err.Error())
	default:
		writeOrderError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		writeOrderError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return "", false
	}
	return userID, true
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req orderhttp.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOrderError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.orders.Handler.CreateOrderHandler(r.Context(), userID, req)
	if err != nil {
		writeOrderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	if orderID == "" {
		writeOrderError(w, http.StatusBadRequest, "invalid_input", "order_id is required")
		return
	}
	resp, err := s.orders.Handler.GetOrderHandler(r.Context(), orderID)
	if err != nil {
		writeOrderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit, offset := parsePage(r)
	resp, err := s.orders.Handler.ListOrdersHandler(r.Context(), userID, limit, offset)
	if err != nil {
		writeOrderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))

	var req orderhttp.CancelOrderRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	resp, err := s.orders.Handler.CancelOrderHandler(r.Context(), orderID, req)
	if err != nil {
		writeOrderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefillOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	resp, err := s.orders.Handler.RefillOrderHandler(r.Context(), orderID)
	if err != nil {
		writeOrderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResumeOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUserID(w, r); !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))
	resp, err := s.orders.Handler.ResumeOrderHandler(r.Context(), orderID)
	if err != nil {
		writeOrderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleForcePartial(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireUserID(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(r.PathValue("order_id"))

	var req orderhttp.ForcePartialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOrderError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if req.Actor == "" {
		req.Actor = actor
	}

	resp, err := s.orders.Handler.ForcePartialHandler(r.Context(), orderID, req)
	if err != nil {
		writeOrderDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parsePage(r *http.Request) (int, int) {
	limit := 50
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}
