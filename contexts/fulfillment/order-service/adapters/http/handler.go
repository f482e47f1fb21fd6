package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"boostpanel/contexts/fulfillment/order-service/application"
	"boostpanel/contexts/fulfillment/order-service/domain/entities"
	httptransport "boostpanel/contexts/fulfillment/order-service/transport/http"
)

type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

func (h Handler) CreateOrderHandler(ctx context.Context, userID string, req httptransport.CreateOrderRequest) (httptransport.OrderResponse, error) {
	order, err := h.Service.CreateOrder(ctx, application.CreateOrderInput{
		UserID:       userID,
		ServiceID:    req.ServiceID,
		Link:         req.Link,
		Quantity:     req.Quantity,
		Charge:       req.Charge,
		ClipEligible: req.ClipEligible,
	})
	if err != nil {
		return httptransport.OrderResponse{}, err
	}
	return httptransport.OrderResponse{Status: "success", Data: toDTO(order)}, nil
}

func (h Handler) GetOrderHandler(ctx context.Context, orderID string) (httptransport.OrderResponse, error) {
	order, err := h.Service.GetOrder(ctx, orderID)
	if err != nil {
		return httptransport.OrderResponse{}, err
	}
	return httptransport.OrderResponse{Status: "success", Data: toDTO(order)}, nil
}

func (h Handler) ListOrdersHandler(ctx context.Context, userID string, limit int, offset int) (httptransport.OrderListResponse, error) {
	orders, err := h.Service.ListOrders(ctx, userID, limit, offset)
	if err != nil {
		return httptransport.OrderListResponse{}, err
	}
	resp := httptransport.OrderListResponse{
		Status: "success",
		Data:   make([]httptransport.OrderDTO, 0, len(orders)),
	}
	for _, order := range orders {
		resp.Data = append(resp.Data, toDTO(order))
	}
	return resp, nil
}

func (h Handler) CancelOrderHandler(ctx context.Context, orderID string, req httptransport.CancelOrderRequest) (httptransport.OrderResponse, error) {
	order, err := h.Service.Cancel(ctx, orderID, req.Reason)
	if err != nil {
		return httptransport.OrderResponse{}, err
	}
	return httptransport.OrderResponse{Status: "success", Data: toDTO(order)}, nil
}

func (h Handler) RefillOrderHandler(ctx context.Context, orderID string) (httptransport.OrderResponse, error) {
	order, err := h.Service.Refill(ctx, orderID)
	if err != nil {
		return httptransport.OrderResponse{}, err
	}
	return httptransport.OrderResponse{Status: "success", Data: toDTO(order)}, nil
}

func (h Handler) ForcePartialHandler(ctx context.Context, orderID string, req httptransport.ForcePartialRequest) (httptransport.OrderResponse, error) {
	order, err := h.Service.ForcePartial(ctx, orderID, req.Actor, req.Reason)
	if err != nil {
		return httptransport.OrderResponse{}, err
	}
	return httptransport.OrderResponse{Status: "success", Data: toDTO(order)}, nil
}

func (h Handler) ResumeOrderHandler(ctx context.Context, orderID string) (httptransport.OrderResponse, error) {
	order, err := h.Service.Resume(ctx, orderID)
	if err != nil {
		return httptransport.OrderResponse{}, err
	}
	return httptransport.OrderResponse{Status: "success", Data: toDTO(order)}, nil
}

func toDTO(order entities.Order) httptransport.OrderDTO {
	return httptransport.OrderDTO{
		OrderID:          order.ID,
		UserID:           order.UserID,
		ServiceID:        order.ServiceID,
		Link:             order.Link,
		Quantity:         order.Quantity,
		Charge:           order.Charge,
		StartCount:       order.StartCount,
		SecondStartCount: order.SecondStartCount,
		Delivered:        order.Delivered,
		Remains:          order.Remains(),
		Status:           string(order.Status),
		RequiredTraffic:  order.RequiredTraffic,
		CreatedAt:        order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:        order.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
