package testutil

import (
	"maps"
	"sync"

	"github.com/cassiomorais/leadflow/internal/domain/estimate"
	"github.com/cassiomorais/leadflow/internal/domain/lead"
	"github.com/cassiomorais/leadflow/internal/domain/outbox"
	"github.com/cassiomorais/leadflow/internal/domain/payment"
	"github.com/google/uuid"
)

// Store is an in-memory datastore shared by the repository fakes. Values are
// copied in and out so callers never alias stored rows, which lets TxManager
// roll a failed unit of work back by restoring a snapshot.
type Store struct {
	mu            sync.Mutex
	payments      map[uuid.UUID]*payment.Payment
	paymentEvents []*payment.PaymentEvent
	estimates     map[uuid.UUID]*estimate.Estimate
	leads         map[uuid.UUID]*lead.Lead
	outbox        []*outbox.Entry
	webhookEvents map[string]string
}

func NewStore() *Store {
	return &Store{
		payments:      make(map[uuid.UUID]*payment.Payment),
		estimates:     make(map[uuid.UUID]*estimate.Estimate),
		leads:         make(map[uuid.UUID]*lead.Lead),
		webhookEvents: make(map[string]string),
	}
}

type snapshot struct {
	payments      map[uuid.UUID]*payment.Payment
	paymentEvents []*payment.PaymentEvent
	estimates     map[uuid.UUID]*estimate.Estimate
	leads         map[uuid.UUID]*lead.Lead
	outbox        []*outbox.Entry
	webhookEvents map[string]string
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		payments:      make(map[uuid.UUID]*payment.Payment, len(s.payments)),
		paymentEvents: append([]*payment.PaymentEvent(nil), s.paymentEvents...),
		estimates:     make(map[uuid.UUID]*estimate.Estimate, len(s.estimates)),
		leads:         make(map[uuid.UUID]*lead.Lead, len(s.leads)),
		webhookEvents: maps.Clone(s.webhookEvents),
	}
	for id, p := range s.payments {
		snap.payments[id] = clonePayment(p)
	}
	for id, e := range s.estimates {
		snap.estimates[id] = cloneEstimate(e)
	}
	for id, l := range s.leads {
		snap.leads[id] = cloneLead(l)
	}
	for _, e := range s.outbox {
		snap.outbox = append(snap.outbox, cloneEntry(e))
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = snap.payments
	s.paymentEvents = snap.paymentEvents
	s.estimates = snap.estimates
	s.leads = snap.leads
	s.outbox = snap.outbox
	s.webhookEvents = snap.webhookEvents
}

// --- seeding and inspection ---

func (s *Store) AddEstimate(e *estimate.Estimate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.estimates[e.ID] = cloneEstimate(e)
}

func (s *Store) AddLead(l *lead.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads[l.ID] = cloneLead(l)
}

func (s *Store) AddPayment(p *payment.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = clonePayment(p)
}

func (s *Store) Payment(id uuid.UUID) *payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		return clonePayment(p)
	}
	return nil
}

// PaymentsFor returns every payment row of the estimate.
func (s *Store) PaymentsFor(estimateID uuid.UUID) []*payment.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*payment.Payment
	for _, p := range s.payments {
		if p.EstimateID == estimateID {
			out = append(out, clonePayment(p))
		}
	}
	return out
}

func (s *Store) Estimate(id uuid.UUID) *estimate.Estimate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.estimates[id]; ok {
		return cloneEstimate(e)
	}
	return nil
}

func (s *Store) Lead(id uuid.UUID) *lead.Lead {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leads[id]; ok {
		return cloneLead(l)
	}
	return nil
}

func (s *Store) OutboxEntries() []*outbox.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*outbox.Entry, 0, len(s.outbox))
	for _, e := range s.outbox {
		out = append(out, cloneEntry(e))
	}
	return out
}

// OutboxEvents returns the event types written to the outbox, in order.
func (s *Store) OutboxEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.outbox))
	for _, e := range s.outbox {
		out = append(out, e.EventType)
	}
	return out
}

func (s *Store) PaymentEvents(paymentID uuid.UUID) []*payment.PaymentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*payment.PaymentEvent
	for _, e := range s.paymentEvents {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out
}

// ProcessedOutcome returns the outcome recorded for a webhook event id.
func (s *Store) ProcessedOutcome(eventID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.webhookEvents[eventID]
	return o, ok
}

func clonePayment(p *payment.Payment) *payment.Payment {
	c := *p
	c.Metadata = maps.Clone(p.Metadata)
	return &c
}

func cloneEstimate(e *estimate.Estimate) *estimate.Estimate {
	c := *e
	return &c
}

func cloneLead(l *lead.Lead) *lead.Lead {
	c := *l
	return &c
}

func cloneEntry(e *outbox.Entry) *outbox.Entry {
	c := *e
	c.Payload = maps.Clone(e.Payload)
	return &c
}
