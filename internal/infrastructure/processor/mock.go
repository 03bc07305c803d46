package processor

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/google/uuid"
)

// MockProcessor is an in-memory processor for local runs and tests. It keeps
// Stripe's idempotency behaviour and verifies HMAC-signed JSON webhooks of
// the form "t=<unix>,v1=<hex hmac-sha256 of "<unix>.<body>">".
type MockProcessor struct {
	secret      []byte
	tolerance   time.Duration
	baseURL     string
	latency     time.Duration
	failureRate float64
	now         func() time.Time

	mu          sync.Mutex
	customers   map[string]string
	sessions    map[string]*Session
	sessionKeys map[string]string
	keyParams   map[string]SessionParams
	calls       map[string]int
}

type MockOption func(*MockProcessor)

func WithFailureRate(rate float64) MockOption {
	return func(p *MockProcessor) { p.failureRate = rate }
}

func WithLatency(d time.Duration) MockOption {
	return func(p *MockProcessor) { p.latency = d }
}

func WithCheckoutBaseURL(u string) MockOption {
	return func(p *MockProcessor) { p.baseURL = strings.TrimRight(u, "/") }
}

func WithClock(now func() time.Time) MockOption {
	return func(p *MockProcessor) { p.now = now }
}

func NewMockProcessor(webhookSecret string, tolerance time.Duration, opts ...MockOption) *MockProcessor {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	p := &MockProcessor{
		secret:      []byte(webhookSecret),
		tolerance:   tolerance,
		baseURL:     "https://checkout.mock.local/pay",
		now:         time.Now,
		customers:   make(map[string]string),
		sessions:    make(map[string]*Session),
		sessionKeys: make(map[string]string),
		keyParams:   make(map[string]SessionParams),
		calls:       make(map[string]int),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *MockProcessor) Name() string { return "mock" }

func (p *MockProcessor) CreateCustomer(ctx context.Context, params CustomerParams) (string, error) {
	if err := p.simulate(ctx, "create_customer"); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.customers[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		return id, nil
	}
	id := "cus_mock_" + shortID()
	if params.IdempotencyKey != "" {
		p.customers[params.IdempotencyKey] = id
	}
	return id, nil
}

func (p *MockProcessor) CreateCheckoutSession(ctx context.Context, params SessionParams) (*Session, error) {
	if err := p.simulate(ctx, "create_checkout_session"); err != nil {
		return nil, err
	}
	if params.AmountCents <= 0 {
		return nil, domainErrors.ExternalService("mock.create_checkout_session", "amount must be positive", nil)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if id, ok := p.sessionKeys[params.IdempotencyKey]; ok && params.IdempotencyKey != "" {
		if !sameSessionParams(p.keyParams[params.IdempotencyKey], params) {
			return nil, domainErrors.ExternalService("mock.create_checkout_session",
				"idempotency key "+params.IdempotencyKey+" reused with different parameters", nil)
		}
		return cloneSession(p.sessions[id]), nil
	}

	id := "cs_mock_" + shortID()
	metadata := maps.Clone(params.Metadata)
	if metadata == nil {
		metadata = make(map[string]string)
	}
	if params.ClientReference != "" {
		metadata["payment_id"] = params.ClientReference
	}
	expires := params.ExpiresAt
	if expires.IsZero() {
		expires = p.now().Add(24 * time.Hour)
	}
	s := &Session{
		ID:            id,
		URL:           p.baseURL + "/" + id,
		Status:        SessionOpen,
		PaymentStatus: "unpaid",
		CustomerID:    params.CustomerID,
		AmountTotal:   params.AmountCents,
		Currency:      params.Currency,
		Metadata:      metadata,
		ExpiresAt:     expires,
	}
	p.sessions[id] = s
	if params.IdempotencyKey != "" {
		p.sessionKeys[params.IdempotencyKey] = id
		p.keyParams[params.IdempotencyKey] = params
	}
	return cloneSession(s), nil
}

func (p *MockProcessor) ExpireCheckoutSession(ctx context.Context, sessionID string) error {
	if err := p.simulate(ctx, "expire_checkout_session"); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return domainErrors.ExternalService("mock.expire_checkout_session", "no such checkout session: "+sessionID, nil)
	}
	if s.Status == SessionComplete {
		return domainErrors.ExternalService("mock.expire_checkout_session", "checkout session is already complete", nil)
	}
	s.Status = SessionExpired
	return nil
}

func (p *MockProcessor) GetCheckoutSession(ctx context.Context, sessionID string) (*Session, error) {
	if err := p.simulate(ctx, "get_checkout_session"); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, domainErrors.ExternalService("mock.get_checkout_session", "no such checkout session: "+sessionID, nil)
	}
	return cloneSession(s), nil
}

func sameSessionParams(a, b SessionParams) bool {
	return a.CustomerID == b.CustomerID &&
		a.AmountCents == b.AmountCents &&
		a.Currency == b.Currency &&
		a.Description == b.Description &&
		a.SuccessURL == b.SuccessURL &&
		a.CancelURL == b.CancelURL &&
		a.ClientReference == b.ClientReference &&
		a.ExpiresAt.Equal(b.ExpiresAt) &&
		maps.Equal(a.Metadata, b.Metadata)
}

// CompleteSession marks a session paid, as if the lead finished checkout.
func (p *MockProcessor) CompleteSession(sessionID string) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", sessionID)
	}
	s.Status = SessionComplete
	s.PaymentStatus = PaymentStatusPaid
	if s.PaymentIntentID == "" {
		s.PaymentIntentID = "pi_mock_" + shortID()
	}
	return cloneSession(s), nil
}

// Calls returns how many times op was invoked, failed simulations included.
func (p *MockProcessor) Calls(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *MockProcessor) ParseEvent(payload []byte, signature string) (*Event, error) {
	if err := p.verify(payload, signature); err != nil {
		return nil, err
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, domainErrors.Structural("mock.parse_event", "malformed event body", err)
	}
	if ev.ID == "" || ev.Kind == "" {
		return nil, domainErrors.Structural("mock.parse_event", "event id and type are required", nil)
	}
	return &ev, nil
}

// Sign builds the signature header for payload as sent at the given time.
func (p *MockProcessor) Sign(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + signHex(p.secret, ts, payload)
}

func (p *MockProcessor) verify(payload []byte, header string) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("malformed signature header: %w", domainErrors.ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("bad timestamp: %w", domainErrors.ErrInvalidSignature)
	}
	age := p.now().Sub(time.Unix(unix, 0))
	if age > p.tolerance || age < -p.tolerance {
		return fmt.Errorf("timestamp outside tolerance: %w", domainErrors.ErrInvalidSignature)
	}

	provided, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("signature is not hex: %w", domainErrors.ErrInvalidSignature)
	}
	expected, _ := hex.DecodeString(signHex(p.secret, ts, payload))
	if !hmac.Equal(provided, expected) {
		return domainErrors.ErrInvalidSignature
	}
	return nil
}

func (p *MockProcessor) simulate(ctx context.Context, op string) error {
	p.mu.Lock()
	p.calls[op]++
	p.mu.Unlock()

	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.failureRate > 0 && rand.Float64() < p.failureRate {
		return domainErrors.Transient("mock."+op, domainErrors.ErrProcessorUnavailable)
	}
	return nil
}

func signHex(secret []byte, ts string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(ts))
	_, _ = mac.Write([]byte{'.'})
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func cloneSession(s *Session) *Session {
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	return &c
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}
