package httpserver

import (
	"encoding/json"
	"log/slog"
	"net/http"

	ledgerservice "boostpanel/contexts/finance-core/ledger-service"
	orderservice "boostpanel/contexts/fulfillment/order-service"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "boostpanel/internal/platform/httpserver/docs"
)

type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
	addr   string
	orders orderservice.Module
	ledger ledgerservice.Module
}

func New(
	orders orderservice.Module,
	ledger ledgerservice.Module,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		orders: orders,
		ledger: ledger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /api/v1/orders", s.handleCreateOrder)
	s.mux.HandleFunc("GET /api/v1/orders", s.handleListOrders)
	s.mux.HandleFunc("GET /api/v1/orders/{order_id}", s.handleGetOrder)
	s.mux.HandleFunc("POST /api/v1/orders/{order_id}/cancel", s.handleCancelOrder)
	s.mux.HandleFunc("POST /api/v1/orders/{order_id}/refill", s.handleRefillOrder)
	s.mux.HandleFunc("POST /api/v1/orders/{order_id}/resume", s.handleResumeOrder)
	s.mux.HandleFunc("POST /api/v1/admin/orders/{order_id}/partial", s.handleForcePartial)

	s.mux.HandleFunc("GET /api/v1/balance", s.handleBalance)
	s.mux.HandleFunc("POST /api/v1/balance/deposit", s.handleDeposit)
	s.mux.HandleFunc("POST /api/v1/admin/balance/adjust", s.handleAdjust)
	s.mux.HandleFunc("GET /api/v1/balance/entries", s.handleEntries)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
