package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type CreateOrderRequest struct {
	ServiceID    string  `json:"service_id"`
	Link         string  `json:"link"`
	Quantity     int64   `json:"quantity"`
	Charge       float64 `json:"charge"`
	ClipEligible bool    `json:"clip_eligible"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type ForcePartialRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type OrderDTO struct {
	OrderID          string  `json:"order_id"`
	UserID           string  `json:"user_id"`
	ServiceID        string  `json:"service_id"`
	Link             string  `json:"link"`
	Quantity         int64   `json:"quantity"`
	Charge           float64 `json:"charge"`
	StartCount       int64   `json:"start_count"`
	SecondStartCount *int64  `json:"second_start_count,omitempty"`
	Delivered        int64   `json:"delivered"`
	Remains          int64   `json:"remains"`
	Status           string  `json:"status"`
	RequiredTraffic  int64   `json:"required_traffic"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

type OrderResponse struct {
	Status string   `json:"status"`
	Data   OrderDTO `json:"data"`
}

type OrderListResponse struct {
	Status string     `json:"status"`
	Data   []OrderDTO `json:"data"`
}
