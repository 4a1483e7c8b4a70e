// Package dedupe provides the fingerprint-keyed store that guarantees at most
// one ticket creation per logical message. All mutations are atomic
// check-and-set operations; callers never read-then-write around the store.
package dedupe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/triagebot/pkg/models"
)

// Surface identifies one of the two independent notification surfaces.
type Surface string

const (
	SurfaceThread  Surface = "thread"
	SurfaceChannel Surface = "channel"
)

// Store maps fingerprints to ticket-creation outcomes.
//
// Reserve is the exclusivity primitive: the first caller for a fingerprint
// atomically installs a Pending record and gets reserved=true; every later
// caller observes the existing record with reserved=false.
type Store interface {
	Reserve(ctx context.Context, fp models.Fingerprint) (rec models.TicketRecord, reserved bool, err error)
	MarkCreated(ctx context.Context, fp models.Fingerprint, ticketKey string) error
	MarkFailed(ctx context.Context, fp models.Fingerprint, reason string) error
	SetNotified(ctx context.Context, fp models.Fingerprint, surface Surface) error
	Get(ctx context.Context, fp models.Fingerprint) (models.TicketRecord, bool, error)
	Close() error
}

// MemoryStore is the in-process Store. Durability across restarts is a
// deployment choice; within one process run it provides the full guarantee.
type MemoryStore struct {
	mu      sync.Mutex
	records map[models.Fingerprint]*models.TicketRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[models.Fingerprint]*models.TicketRecord),
		now:     time.Now,
	}
}

func (s *MemoryStore) Reserve(_ context.Context, fp models.Fingerprint) (models.TicketRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[fp]; ok {
		return *rec, false, nil
	}

	rec := &models.TicketRecord{
		Fingerprint: fp,
		Status:      models.TicketPending,
		CreatedAt:   s.now(),
	}
	s.records[fp] = rec
	return *rec, true, nil
}

func (s *MemoryStore) MarkCreated(_ context.Context, fp models.Fingerprint, ticketKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fp]
	if !ok {
		return fmt.Errorf("no reservation for fingerprint %s", fp)
	}
	if rec.Status == models.TicketCreated {
		// The key is immutable once set.
		if rec.TicketKey != ticketKey {
			return fmt.Errorf("fingerprint %s already created as %s", fp, rec.TicketKey)
		}
		return nil
	}
	rec.Status = models.TicketCreated
	rec.TicketKey = ticketKey
	rec.FailReason = ""
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, fp models.Fingerprint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fp]
	if !ok {
		return fmt.Errorf("no reservation for fingerprint %s", fp)
	}
	if rec.Status == models.TicketCreated {
		return fmt.Errorf("fingerprint %s already created as %s", fp, rec.TicketKey)
	}
	rec.Status = models.TicketFailed
	rec.FailReason = reason
	return nil
}

func (s *MemoryStore) SetNotified(_ context.Context, fp models.Fingerprint, surface Surface) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fp]
	if !ok {
		return fmt.Errorf("no record for fingerprint %s", fp)
	}
	switch surface {
	case SurfaceThread:
		rec.NotifiedThread = true
	case SurfaceChannel:
		rec.NotifiedChannel = true
	default:
		return fmt.Errorf("unknown notification surface %q", surface)
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, fp models.Fingerprint) (models.TicketRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[fp]
	if !ok {
		return models.TicketRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *MemoryStore) Close() error { return nil }
