// Package signin authenticates the rider against the passenger backend.
package signin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ikramby/carburon/internal/session"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidResponse    = errors.New("invalid response from server")
)

// Client calls the passenger sign-in endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient constructs a client for baseURL.
func NewClient(baseURL string, client *http.Client, timeout time.Duration, logger *zap.Logger) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client, timeout: timeout, logger: logger.Named("signin")}
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type passengerWire struct {
	ID       json.RawMessage `json:"id"`
	MongoID  string          `json:"_id"`
	Name     string          `json:"name"`
	Username string          `json:"username"`
	Phone    string          `json:"phone"`
	Agency   string          `json:"agency"`
}

type signinResponse struct {
	Passenger *passengerWire `json:"passenger"`
	Token     string         `json:"token"`
	Message   string         `json:"message"`
}

// SignIn exchanges credentials for a session.
func (c *Client) SignIn(ctx context.Context, username, password string) (session.Session, error) {
	body, err := json.Marshal(credentials{Username: username, Password: password})
	if err != nil {
		return session.Session{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/passengers/signin", bytes.NewReader(body))
	if err != nil {
		return session.Session{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return session.Session{}, fmt.Errorf("sign in: %w", err)
	}
	defer resp.Body.Close()

	var decoded signinResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return session.Session{}, ErrInvalidCredentials
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		if decoded.Message != "" {
			return session.Session{}, fmt.Errorf("sign in: status %d: %s", resp.StatusCode, decoded.Message)
		}
		return session.Session{}, fmt.Errorf("sign in: status %d", resp.StatusCode)
	case decodeErr != nil:
		return session.Session{}, fmt.Errorf("%w: %v", ErrInvalidResponse, decodeErr)
	case decoded.Passenger == nil:
		return session.Session{}, ErrInvalidResponse
	}

	p := decoded.Passenger
	passenger := session.Passenger{
		ID:       passengerID(p),
		Name:     p.Name,
		Username: p.Username,
		Phone:    p.Phone,
		Agency:   p.Agency,
	}
	sess, err := session.New(passenger, decoded.Token)
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	c.logger.Info("signed in", zap.String("passenger_id", passenger.ID))
	return sess, nil
}

// passengerID accepts numeric or string ids and falls back to _id.
func passengerID(p *passengerWire) string {
	raw := bytes.TrimSpace(p.ID)
	if len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				return s
			}
		} else {
			var n json.Number
			if err := json.Unmarshal(raw, &n); err == nil {
				return n.String()
			}
		}
	}
	return p.MongoID
}
