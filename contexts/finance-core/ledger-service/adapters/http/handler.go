package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"boostpanel/contexts/finance-core/ledger-service/application"
	"boostpanel/contexts/finance-core/ledger-service/domain/entities"
	httptransport "boostpanel/contexts/finance-core/ledger-service/transport/http"
)

type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

func (h Handler) BalanceHandler(ctx context.Context, userID string) (httptransport.BalanceResponse, error) {
	amount, err := h.Service.Balance(ctx, userID)
	if err != nil {
		return httptransport.BalanceResponse{}, err
	}
	return httptransport.BalanceResponse{Status: "success", UserID: userID, Amount: amount}, nil
}

func (h Handler) DepositHandler(ctx context.Context, userID string, idempotencyKey string, req httptransport.DepositRequest) (httptransport.BalanceResponse, error) {
	balance, err := h.Service.Deposit(ctx, userID, req.Amount, idempotencyKey, req.Description)
	if err != nil {
		return httptransport.BalanceResponse{}, err
	}
	return httptransport.BalanceResponse{Status: "success", UserID: userID, Amount: balance}, nil
}

func (h Handler) AdjustHandler(ctx context.Context, userID string, idempotencyKey string, req httptransport.AdjustRequest) (httptransport.BalanceResponse, error) {
	if err := h.Service.Adjust(ctx, userID, req.Amount, req.Reason, idempotencyKey, req.AllowNegative); err != nil {
		return httptransport.BalanceResponse{}, err
	}
	amount, err := h.Service.Balance(ctx, userID)
	if err != nil {
		return httptransport.BalanceResponse{}, err
	}
	return httptransport.BalanceResponse{Status: "success", UserID: userID, Amount: amount}, nil
}

func (h Handler) EntriesHandler(ctx context.Context, userID string, limit int, offset int) (httptransport.EntryListResponse, error) {
	entries, err := h.Service.Entries(ctx, userID, limit, offset)
	if err != nil {
		return httptransport.EntryListResponse{}, err
	}
	resp := httptransport.EntryListResponse{
		Status: "success",
		Data:   make([]httptransport.EntryDTO, 0, len(entries)),
	}
	for _, entry := range entries {
		resp.Data = append(resp.Data, toDTO(entry))
	}
	return resp, nil
}

func toDTO(entry entities.Entry) httptransport.EntryDTO {
	return httptransport.EntryDTO{
		EntryID:       entry.ID,
		Amount:        entry.Amount,
		BalanceBefore: entry.BalanceBefore,
		BalanceAfter:  entry.BalanceAfter,
		Type:          string(entry.Type),
		OrderID:       entry.OrderID,
		Description:   entry.Description,
		CreatedAt:     entry.CreatedAt.UTC().Format(time.RFC3339),
	}
}
