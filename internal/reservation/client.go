package reservation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seatlock/internal/seats"
	"seatlock/internal/shared/utils/response"
	"seatlock/pkg/logger"

	"github.com/gorilla/websocket"
)

// APIError is a non-2xx response from the seat service. It unwraps to the
// seats sentinel named by the response code when there is one.
type APIError struct {
	StatusCode  int
	Message     string
	Code        string
	FailedSeats []string
	Err         error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Client implements API over the REST endpoints and subscribes to change
// events over the websocket endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
}

// NewClient targets baseURL, the API root such as http://localhost:8080/api/v1
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

type errorData struct {
	Code        string   `json:"code"`
	FailedSeats []string `json:"failedSeats"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (int, *response.Envelope, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env response.Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return resp.StatusCode, &env, nil
}

func (c *Client) apiError(status int, env *response.Envelope) error {
	apiErr := &APIError{StatusCode: status, Message: env.Message}

	var data errorData
	if len(env.Data) > 0 && json.Unmarshal(env.Data, &data) == nil {
		apiErr.Code = data.Code
		apiErr.FailedSeats = data.FailedSeats
	}
	if sentinel := seats.ErrorFromCode(apiErr.Code); sentinel != nil {
		apiErr.Err = &seats.SeatError{Kind: sentinel, SeatIDs: apiErr.FailedSeats}
	}
	return apiErr
}

func (c *Client) GetSeats(ctx context.Context, concertID string) (*SeatMap, error) {
	status, env, err := c.do(ctx, http.MethodGet, "/seats/concert/"+url.PathEscape(concertID), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(status, env)
	}

	var seatMap SeatMap
	if err := json.Unmarshal(env.Data, &seatMap); err != nil {
		return nil, fmt.Errorf("failed to decode seat map: %w", err)
	}
	return &seatMap, nil
}

// LockSeats returns the lock result on success and, for a 409, the partial
// result together with an error wrapping seats.ErrSeatUnavailable.
func (c *Client) LockSeats(ctx context.Context, concertID string, seatIDs []string) (*seats.LockResult, error) {
	status, env, err := c.do(ctx, http.MethodPost, "/seats/lock", seats.LockSeatsRequest{ConcertID: concertID, SeatIDs: seatIDs})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusConflict {
		return nil, c.apiError(status, env)
	}

	var body seats.LockSeatsResponse
	if err := json.Unmarshal(env.Data, &body); err != nil {
		return nil, fmt.Errorf("failed to decode lock response: %w", err)
	}
	result := &seats.LockResult{Success: body.Success, FailedSeats: body.FailedSeats}
	if body.ExpiresAt != nil {
		result.ExpiresAt = *body.ExpiresAt
	}

	if status == http.StatusConflict {
		return result, &APIError{
			StatusCode:  status,
			Message:     env.Message,
			Code:        seats.CodeSeatUnavailable,
			FailedSeats: body.FailedSeats,
			Err:         &seats.SeatError{Kind: seats.ErrSeatUnavailable, SeatIDs: body.FailedSeats},
		}
	}
	return result, nil
}

func (c *Client) UnlockSeats(ctx context.Context, concertID string, seatIDs []string) ([]string, error) {
	status, env, err := c.do(ctx, http.MethodPost, "/seats/unlock", seats.UnlockSeatsRequest{ConcertID: concertID, SeatIDs: seatIDs})
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError(status, env)
	}

	var body seats.UnlockSeatsResponse
	if err := json.Unmarshal(env.Data, &body); err != nil {
		return nil, fmt.Errorf("failed to decode unlock response: %w", err)
	}
	return body.Released, nil
}

func (c *Client) InitiateCheckout(ctx context.Context, concertID string, seatIDs []string) (*Checkout, error) {
	body := map[string]interface{}{"concertId": concertID, "seatIds": seatIDs}
	status, env, err := c.do(ctx, http.MethodPost, "/payments/checkout", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return nil, c.apiError(status, env)
	}

	var checkout Checkout
	if err := json.Unmarshal(env.Data, &checkout); err != nil {
		return nil, fmt.Errorf("failed to decode checkout: %w", err)
	}
	return &checkout, nil
}

// Subscribe opens the concert's websocket and yields its change events. The
// channel is closed when ctx ends or the connection drops; callers fall back
// to reconciling.
func (c *Client) Subscribe(ctx context.Context, concertID, clientID string) (<-chan seats.ChangeEvent, error) {
	wsURL, err := c.websocketURL(concertID, clientID)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open seat stream: %w", err)
	}

	events := make(chan seats.ChangeEvent, 32)
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go func() {
		defer close(events)
		defer close(done)
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					logger.GetDefault().Debug("seat stream closed", "concert_id", concertID, "error", err)
				}
				return
			}

			var event seats.ChangeEvent
			if err := json.Unmarshal(raw, &event); err != nil {
				continue
			}
			switch event.Type {
			case seats.ChangeLocked, seats.ChangeUnlocked, seats.ChangeBooked:
			default:
				continue
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func (c *Client) websocketURL(concertID, clientID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/ws/concerts/" + url.PathEscape(concertID))
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	q := u.Query()
	if c.token != "" {
		q.Set("token", c.token)
	}
	if clientID != "" {
		q.Set("clientId", clientID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
