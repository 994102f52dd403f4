package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"seatlock/internal/seats"
	"seatlock/pkg/logger"

	"github.com/google/uuid"
)

var (
	// ErrAmountMismatch means the paid amount does not cover the seats
	ErrAmountMismatch = errors.New("paid amount does not match seat total")
	// ErrRefundNotQueued means a refund was owed but could not be handed off
	ErrRefundNotQueued = errors.New("refund request not queued")
)

// RefundPublisher hands refund requests to the payment collaborator
type RefundPublisher interface {
	PublishRefund(ctx context.Context, req RefundRequest) error
}

type Config struct {
	Currency      string
	SuccessURL    string
	CancelURL     string
	WebhookSecret string
}

type Service interface {
	// Checkout validates the caller's hold on seatIDs and opens a checkout session for its total
	Checkout(ctx context.Context, userID string, req CheckoutRequest) (*CheckoutResponse, error)
	// HandlePaymentSucceeded turns a confirmed payment into a booking. When the
	// lock was lost the payment is flagged for refund and the error wraps
	// seats.ErrLockExpiredOrStolen. An underpayment books nothing and is
	// refunded with ErrAmountMismatch; an overpayment books and refunds the
	// difference. If a refund could not be queued the error also wraps
	// ErrRefundNotQueued.
	HandlePaymentSucceeded(ctx context.Context, evt PaymentSucceeded) (*seats.Booking, error)
	// RequestRefund queues a refund of amount for a payment that produced no booking
	RequestRefund(ctx context.Context, evt PaymentSucceeded, amount float64, cause error) error
	VerifySignature(payload []byte, signature string) bool
}

type service struct {
	seats   seats.Service
	gateway Gateway
	refunds RefundPublisher
	config  Config
	now     func() time.Time
}

func NewService(seatService seats.Service, gateway Gateway, refunds RefundPublisher, cfg Config) Service {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &service{
		seats:   seatService,
		gateway: gateway,
		refunds: refunds,
		config:  cfg,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *service) Checkout(ctx context.Context, userID string, req CheckoutRequest) (*CheckoutResponse, error) {
	hold, err := s.seats.ValidateHold(ctx, req.ConcertID, userID, req.SeatIDs)
	if err != nil {
		return nil, err
	}

	gatewayReq := GatewayRequest{
		Reference:   "pay_" + uuid.NewString(),
		Amount:      roundCents(hold.TotalAmount),
		Currency:    s.config.Currency,
		ProductName: fmt.Sprintf("%d seat(s)", len(hold.Seats)),
		ConcertID:   req.ConcertID,
		UserID:      userID,
		SeatIDs:     seatIDs(hold.Seats),
		SuccessURL:  s.config.SuccessURL,
		CancelURL:   s.config.CancelURL,
		ExpiresAt:   hold.ExpiresAt,
	}

	session, err := s.gateway.CreateCheckout(ctx, gatewayReq)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	logger.GetDefault().Info("Checkout Started",
		"concert_id", req.ConcertID,
		"user_id", userID,
		"session_id", session.ID,
		"amount", gatewayReq.Amount,
	)

	return &CheckoutResponse{
		URL:       session.URL,
		SessionID: session.ID,
		Amount:    gatewayReq.Amount,
		Currency:  gatewayReq.Currency,
		ExpiresAt: hold.ExpiresAt,
	}, nil
}

func (s *service) HandlePaymentSucceeded(ctx context.Context, evt PaymentSucceeded) (*seats.Booking, error) {
	if evt.Amount > 0 {
		// a redelivery of a booked payment fails this check and falls through to the idempotent commit
		if hold, err := s.seats.ValidateHold(ctx, evt.ConcertID, evt.UserID, evt.SeatIDs); err == nil &&
			roundCents(evt.Amount) < roundCents(hold.TotalAmount) {
			cause := fmt.Errorf("%w: paid %.2f for seats totalling %.2f", ErrAmountMismatch, evt.Amount, hold.TotalAmount)
			return nil, s.refundFor(ctx, evt, evt.Amount, cause)
		}
	}

	booking, err := s.seats.CommitBooking(ctx, evt.ConcertID, evt.UserID, evt.SeatIDs, evt.PaymentRef)
	if err != nil {
		if errors.Is(err, seats.ErrLockExpiredOrStolen) {
			return nil, s.refundFor(ctx, evt, evt.Amount, err)
		}
		return nil, err
	}

	if evt.Amount > 0 && roundCents(evt.Amount) > roundCents(booking.TotalAmount) {
		excess := roundCents(evt.Amount - booking.TotalAmount)
		cause := fmt.Errorf("%w: paid %.2f for seats totalling %.2f", ErrAmountMismatch, evt.Amount, booking.TotalAmount)
		if err := s.RequestRefund(ctx, evt, excess, cause); err != nil {
			logger.GetDefault().Error("overpayment refund not queued, booking kept",
				"payment_ref", evt.PaymentRef,
				"booking_id", booking.ID,
				"excess", excess,
				"error", err,
			)
		}
	}
	return booking, nil
}

// refundFor requests a refund and returns cause, joined with the publish failure if there was one
func (s *service) refundFor(ctx context.Context, evt PaymentSucceeded, amount float64, cause error) error {
	if err := s.RequestRefund(ctx, evt, amount, cause); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (s *service) RequestRefund(ctx context.Context, evt PaymentSucceeded, amount float64, cause error) error {
	req := RefundRequest{
		PaymentRef:  evt.PaymentRef,
		ConcertID:   evt.ConcertID,
		UserID:      evt.UserID,
		SeatIDs:     evt.SeatIDs,
		FailedSeats: seats.FailedSeatIDs(cause),
		Amount:      amount,
		Currency:    evt.Currency,
		Reason:      cause.Error(),
		RequestedAt: s.now(),
	}

	log := logger.GetDefault().WithConcertID(evt.ConcertID).WithUserID(evt.UserID)
	if s.refunds == nil {
		log.Error("refund required but no refund publisher is configured", "payment_ref", evt.PaymentRef)
		return fmt.Errorf("%w: no refund publisher", ErrRefundNotQueued)
	}
	if err := s.refunds.PublishRefund(ctx, req); err != nil {
		log.Error("failed to publish refund request", "payment_ref", evt.PaymentRef, "error", err)
		return fmt.Errorf("%w: %v", ErrRefundNotQueued, err)
	}
	log.Warn("Refund Requested", "payment_ref", evt.PaymentRef, "amount", amount, "failed_seats", req.FailedSeats)
	return nil
}

func (s *service) VerifySignature(payload []byte, signature string) bool {
	return VerifySignature(s.config.WebhookSecret, payload, signature)
}

// Sign returns the hex HMAC-SHA256 of payload, the X-Signature of a webhook
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifySignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

func roundCents(amount float64) float64 {
	return math.Round(amount*100) / 100
}

func seatIDs(list []seats.Seat) []string {
	ids := make([]string, len(list))
	for i, seat := range list {
		ids[i] = seat.ID
	}
	return ids
}
