package payments

import "time"

// CheckoutRequest is the body of POST /payments/checkout
type CheckoutRequest struct {
	ConcertID string   `json:"concertId" validate:"required"`
	SeatIDs   []string `json:"seatIds" validate:"required,min=1,max=50,dive,required"`
}

// CheckoutResponse tells the client where to complete payment
type CheckoutResponse struct {
	URL       string    `json:"url"`
	SessionID string    `json:"sessionId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// GatewayRequest is handed to the external checkout collaborator. The
// reference comes back on the success notification as the payment ref.
type GatewayRequest struct {
	Reference   string    `json:"reference"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	ProductName string    `json:"productName"`
	ConcertID   string    `json:"concertId"`
	UserID      string    `json:"userId"`
	SeatIDs     []string  `json:"seatIds"`
	SuccessURL  string    `json:"successUrl,omitempty"`
	CancelURL   string    `json:"cancelUrl,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// GatewaySession is the gateway's answer to a checkout request
type GatewaySession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// PaymentSucceeded is delivered by the webhook and the payment.succeeded queue
type PaymentSucceeded struct {
	PaymentRef string    `json:"paymentRef" validate:"required"`
	ConcertID  string    `json:"concertId" validate:"required"`
	UserID     string    `json:"userId" validate:"required"`
	SeatIDs    []string  `json:"seatIds" validate:"required,min=1,dive,required"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	PaidAt     time.Time `json:"paidAt"`
}

// WebhookEvent wraps provider notifications; only payment.succeeded is acted on
type WebhookEvent struct {
	Type string           `json:"type" validate:"required"`
	Data PaymentSucceeded `json:"data"`
}

const EventPaymentSucceeded = "payment.succeeded"

// RefundRequest is published when a payment arrived for seats the user no longer holds
type RefundRequest struct {
	PaymentRef  string    `json:"paymentRef"`
	ConcertID   string    `json:"concertId"`
	UserID      string    `json:"userId"`
	SeatIDs     []string  `json:"seatIds"`
	FailedSeats []string  `json:"failedSeats,omitempty"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}
