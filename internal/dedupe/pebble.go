package dedupe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/triagebot/pkg/models"
)

// PebbleStore is the durable Store, backed by an embedded pebble database so
// reservations survive process restarts. A single store-level mutex serializes
// the check-and-set sequences; pebble handles crash consistency.
type PebbleStore struct {
	mu  sync.Mutex
	db  *pebble.DB
	now func() time.Time
}

// OpenPebbleStore opens (or creates) a pebble-backed store at path.
func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open dedupe store at %s: %w", path, err)
	}
	return &PebbleStore{db: db, now: time.Now}, nil
}

func recordKey(fp models.Fingerprint) []byte {
	return []byte("ticket/" + fp.ChannelID + "/" + fp.MessageTS)
}

func (s *PebbleStore) load(fp models.Fingerprint) (models.TicketRecord, bool, error) {
	value, closer, err := s.db.Get(recordKey(fp))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.TicketRecord{}, false, nil
	}
	if err != nil {
		return models.TicketRecord{}, false, fmt.Errorf("dedupe store read: %w", err)
	}
	defer closer.Close()

	var rec models.TicketRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return models.TicketRecord{}, false, fmt.Errorf("dedupe store decode: %w", err)
	}
	return rec, true, nil
}

func (s *PebbleStore) save(rec models.TicketRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("dedupe store encode: %w", err)
	}
	if err := s.db.Set(recordKey(rec.Fingerprint), data, pebble.Sync); err != nil {
		return fmt.Errorf("dedupe store write: %w", err)
	}
	return nil
}

func (s *PebbleStore) Reserve(_ context.Context, fp models.Fingerprint) (models.TicketRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.load(fp)
	if err != nil {
		return models.TicketRecord{}, false, err
	}
	if ok {
		return rec, false, nil
	}

	rec = models.TicketRecord{
		Fingerprint: fp,
		Status:      models.TicketPending,
		CreatedAt:   s.now(),
	}
	if err := s.save(rec); err != nil {
		return models.TicketRecord{}, false, err
	}
	return rec, true, nil
}

func (s *PebbleStore) MarkCreated(_ context.Context, fp models.Fingerprint, ticketKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.load(fp)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no reservation for fingerprint %s", fp)
	}
	if rec.Status == models.TicketCreated {
		if rec.TicketKey != ticketKey {
			return fmt.Errorf("fingerprint %s already created as %s", fp, rec.TicketKey)
		}
		return nil
	}
	rec.Status = models.TicketCreated
	rec.TicketKey = ticketKey
	rec.FailReason = ""
	return s.save(rec)
}

func (s *PebbleStore) MarkFailed(_ context.Context, fp models.Fingerprint, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.load(fp)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no reservation for fingerprint %s", fp)
	}
	if rec.Status == models.TicketCreated {
		return fmt.Errorf("fingerprint %s already created as %s", fp, rec.TicketKey)
	}
	rec.Status = models.TicketFailed
	rec.FailReason = reason
	return s.save(rec)
}

func (s *PebbleStore) SetNotified(_ context.Context, fp models.Fingerprint, surface Surface) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok, err := s.load(fp)
	if err != nil {
		return err
	}
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
	return s.save(rec)
}

func (s *PebbleStore) Get(_ context.Context, fp models.Fingerprint) (models.TicketRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(fp)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
