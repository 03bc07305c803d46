package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/leadflow/internal/domain/errors"
	"github.com/cassiomorais/leadflow/internal/domain/estimate"
	"github.com/cassiomorais/leadflow/internal/domain/lead"
	"github.com/cassiomorais/leadflow/internal/domain/outbox"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/cassiomorais/leadflow/internal/repository/postgres"
	"github.com/google/uuid"
)

// --- Payment Repository Mock ---

// MockPaymentRepository is an in-memory payment.Repository. The Err hooks,
// when set, run before the default behaviour and abort it on error.
type MockPaymentRepository struct {
	store *Store

	CreateErr func(p *payment.Payment) error
	UpdateErr func(p *payment.Payment) error
}

func NewMockPaymentRepository(store *Store) *MockPaymentRepository {
	return &MockPaymentRepository{store: store}
}

func (m *MockPaymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	if m.CreateErr != nil {
		if err := m.CreateErr(p); err != nil {
			return err
		}
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[p.ID]; ok {
		return fmt.Errorf("create payment %s: %w", p.ID, domainErrors.ErrDuplicateIdempotencyKey)
	}
	if p.IdempotencyKey != nil {
		for _, existing := range s.payments {
			if existing.EstimateID == p.EstimateID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *p.IdempotencyKey {
				return fmt.Errorf("create payment: %w", domainErrors.ErrDuplicateIdempotencyKey)
			}
		}
	}
	s.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *MockPaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, domainErrors.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

func (m *MockPaymentRepository) find(match func(p *payment.Payment) bool) (*payment.Payment, bool, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if match(p) {
			return clonePayment(p), true, nil
		}
	}
	return nil, false, nil
}

func (m *MockPaymentRepository) FindByIdempotencyKey(ctx context.Context, estimateID uuid.UUID, key string) (*payment.Payment, bool, error) {
	return m.find(func(p *payment.Payment) bool {
		return p.EstimateID == estimateID && p.IdempotencyKey != nil && *p.IdempotencyKey == key
	})
}

func (m *MockPaymentRepository) FindByCheckoutID(ctx context.Context, checkoutID string) (*payment.Payment, bool, error) {
	return m.find(func(p *payment.Payment) bool {
		return p.ExternalCheckoutID != nil && *p.ExternalCheckoutID == checkoutID
	})
}

func (m *MockPaymentRepository) FindByPaymentIntentID(ctx context.Context, intentID string) (*payment.Payment, bool, error) {
	return m.find(func(p *payment.Payment) bool {
		return p.ExternalPaymentIntentID != nil && *p.ExternalPaymentIntentID == intentID
	})
}

func (m *MockPaymentRepository) FindByChargeID(ctx context.Context, chargeID string) (*payment.Payment, bool, error) {
	return m.find(func(p *payment.Payment) bool {
		return p.ExternalChargeID != nil && *p.ExternalChargeID == chargeID
	})
}

func (m *MockPaymentRepository) ListByEstimate(ctx context.Context, estimateID uuid.UUID, status *payment.Status) ([]*payment.Payment, error) {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*payment.Payment
	for _, p := range s.payments {
		if p.EstimateID != estimateID || (status != nil && p.Status != *status) {
			continue
		}
		out = append(out, clonePayment(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MockPaymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	if m.UpdateErr != nil {
		if err := m.UpdateErr(p); err != nil {
			return err
		}
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payments[p.ID]
	if !ok {
		return domainErrors.ErrPaymentNotFound
	}
	if stored.Version != p.Version {
		return fmt.Errorf("payment %s at version %d: %w", p.ID, p.Version, domainErrors.ErrOptimisticLockFailed)
	}
	p.Version++
	p.UpdatedAt = time.Now().UTC()
	s.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *MockPaymentRepository) AddEvent(ctx context.Context, event *payment.PaymentEvent) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paymentEvents = append(s.paymentEvents, event)
	return nil
}

func (m *MockPaymentRepository) GetEvents(ctx context.Context, paymentID uuid.UUID) ([]*payment.PaymentEvent, error) {
	return m.store.PaymentEvents(paymentID), nil
}

// --- Estimate Repository Mock ---

type MockEstimateRepository struct {
	store *Store

	UpdateErr func(e *estimate.Estimate) error
}

func NewMockEstimateRepository(store *Store) *MockEstimateRepository {
	return &MockEstimateRepository{store: store}
}

func (m *MockEstimateRepository) GetByID(ctx context.Context, id uuid.UUID) (*estimate.Estimate, error) {
	if e := m.store.Estimate(id); e != nil {
		return e, nil
	}
	return nil, domainErrors.ErrEstimateNotFound
}

func (m *MockEstimateRepository) Update(ctx context.Context, e *estimate.Estimate) error {
	if m.UpdateErr != nil {
		if err := m.UpdateErr(e); err != nil {
			return err
		}
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.estimates[e.ID]
	if !ok {
		return domainErrors.ErrEstimateNotFound
	}
	if stored.Version != e.Version {
		return fmt.Errorf("estimate %s: %w", e.ID, domainErrors.ErrOptimisticLockFailed)
	}
	e.Version++
	s.estimates[e.ID] = cloneEstimate(e)
	return nil
}

// --- Lead Repository Mock ---

type MockLeadRepository struct {
	store *Store
}

func NewMockLeadRepository(store *Store) *MockLeadRepository {
	return &MockLeadRepository{store: store}
}

func (m *MockLeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	if l := m.store.Lead(id); l != nil {
		return l, nil
	}
	return nil, domainErrors.ErrLeadNotFound
}

// SetExternalCustomerID keeps the first id ever recorded.
func (m *MockLeadRepository) SetExternalCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leads[id]
	if !ok {
		return domainErrors.ErrLeadNotFound
	}
	if l.ExternalCustomerID == nil {
		l.ExternalCustomerID = &customerID
	}
	return nil
}

// --- Outbox Repository Mock ---

// MockOutboxRepository is an in-memory outbox.Repository. Now drives claim
// expiry; tests move it forward to let a lease run out.
type MockOutboxRepository struct {
	store *Store

	InsertErr func(entry *outbox.Entry) error
	Now       func() time.Time
}

func NewMockOutboxRepository(store *Store) *MockOutboxRepository {
	return &MockOutboxRepository{store: store, Now: time.Now}
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertErr != nil {
		if err := m.InsertErr(entry); err != nil {
			return err
		}
	}
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, cloneEntry(entry))
	return nil
}

func (m *MockOutboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*outbox.Entry, error) {
	now := m.Now().UTC()
	until := now.Add(lease)
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range s.outbox {
		if limit > 0 && len(out) == limit {
			break
		}
		if e.Status != outbox.StatusPending {
			continue
		}
		if e.ClaimedUntil != nil && e.ClaimedUntil.After(now) {
			continue
		}
		e.ClaimedUntil = &until
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	return m.update(id, func(e *outbox.Entry) {
		now := m.Now().UTC()
		e.Status = outbox.StatusPublished
		e.PublishedAt = &now
		e.ClaimedUntil = nil
	})
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return m.update(id, func(e *outbox.Entry) {
		e.RetryCount++
		if e.RetryCount >= e.MaxRetries {
			e.Status = outbox.StatusFailed
		}
		e.ClaimedUntil = nil
	})
}

func (m *MockOutboxRepository) update(id uuid.UUID, fn func(e *outbox.Entry)) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.outbox {
		if e.ID == id {
			fn(e)
			return nil
		}
	}
	return fmt.Errorf("outbox entry %s not found", id)
}

// --- Webhook Event Store Mock ---

type MockWebhookEventStore struct {
	store *Store
}

func NewMockWebhookEventStore(store *Store) *MockWebhookEventStore {
	return &MockWebhookEventStore{store: store}
}

func (m *MockWebhookEventStore) Seen(ctx context.Context, eventID string) (bool, error) {
	_, ok := m.store.ProcessedOutcome(eventID)
	return ok, nil
}

func (m *MockWebhookEventStore) MarkProcessed(ctx context.Context, eventID, kind, outcome string) error {
	s := m.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.webhookEvents[eventID]; !ok {
		s.webhookEvents[eventID] = outcome
	}
	return nil
}

// --- Transaction Manager Mock ---

type txKey struct{}

// MockTransactionManager runs units of work against a Store. A failed attempt
// restores the snapshot taken when it began, and conflicts are retried the way
// postgres.TxManager retries them.
type MockTransactionManager struct {
	store *Store

	// MaxAttempts bounds attempts per call; zero means 3.
	MaxAttempts int

	mu         sync.Mutex
	attempts   int
	optimistic int
	failures   []error
}

func NewMockTransactionManager(store *Store) *MockTransactionManager {
	return &MockTransactionManager{store: store}
}

// FailNext makes the next len(errs) attempts fail at commit with errs, in order.
func (m *MockTransactionManager) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Attempts returns how many transactions were begun.
func (m *MockTransactionManager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// OptimisticCalls returns how many calls used WithOptimisticLock.
func (m *MockTransactionManager) OptimisticCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.optimistic
}

func (m *MockTransactionManager) WithOptimisticLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) == nil {
		m.mu.Lock()
		m.optimistic++
		m.mu.Unlock()
	}
	return m.WithTransaction(ctx, fn)
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	attempts := m.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		injected := m.begin()
		snap := m.store.snapshot()

		err := fn(context.WithValue(ctx, txKey{}, attempt))
		if err == nil {
			err = injected
		}
		if err == nil {
			return nil
		}

		m.store.restore(snap)
		if !postgres.IsConflict(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", domainErrors.ErrTransactionRetriesExhausted, attempts, lastErr)
}

func (m *MockTransactionManager) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if len(m.failures) == 0 {
		return nil
	}
	err := m.failures[0]
	m.failures = m.failures[1:]
	return err
}
