package http

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type DepositRequest struct {
	Amount      float64 `json:"amount"`
	Description string  `json:"description"`
}

type AdjustRequest struct {
	Amount        float64 `json:"amount"`
	Reason        string  `json:"reason"`
	AllowNegative bool    `json:"allow_negative"`
}

type BalanceResponse struct {
	Status string  `json:"status"`
	UserID string  `json:"user_id"`
	Amount float64 `json:"amount"`
}

type EntryDTO struct {
	EntryID       string  `json:"entry_id"`
	Amount        float64 `json:"amount"`
	BalanceBefore float64 `json:"balance_before"`
	BalanceAfter  float64 `json:"balance_after"`
	Type          string  `json:"type"`
	OrderID       string  `json:"order_id,omitempty"`
	Description   string  `json:"description,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

type EntryListResponse struct {
	Status string     `json:"status"`
	Data   []EntryDTO `json:"data"`
}
