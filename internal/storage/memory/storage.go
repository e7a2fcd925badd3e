package memorystorage

import (
	"errors"
	"sync"
	"time"

	"github.com/merchlift/email-tracking/internal/storage"
)

// Storage keeps everything in process memory. It backs unit tests and local
// runs without Postgres, with the same contract as the sql storage.
type Storage struct {
	mu          sync.RWMutex
	sends       map[string]*sendEntry
	sendOrder   []string
	cohorts     map[string]storage.MerchantCohort
	cohortOrder []string
}

// sendEntry carries its own lock so opens for different tracking ids
// never contend with each other.
type sendEntry struct {
	mu     sync.Mutex
	record storage.SendRecord
	opens  []storage.OpenEvent
}

func New() *Storage {
	return &Storage{
		sends:   make(map[string]*sendEntry),
		cohorts: make(map[string]storage.MerchantCohort),
	}
}

func (s *Storage) Ping() error {
	return nil
}

func (s *Storage) CreateSendRecord(record storage.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sends[record.TrackingID]; ok {
		return errors.New("tracking id already exists")
	}

	s.sends[record.TrackingID] = &sendEntry{record: record}
	s.sendOrder = append(s.sendOrder, record.TrackingID)

	return nil
}

func (s *Storage) UpsertMerchantCohort(cohort storage.MerchantCohort) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cohort.MerchantID + "/" + cohort.CohortName

	if existing, ok := s.cohorts[key]; ok {
		existing.CohortBatch = cohort.CohortBatch
		existing.TestGroup = cohort.TestGroup
		existing.Status = cohort.Status
		s.cohorts[key] = existing

		return nil
	}

	s.cohorts[key] = cohort
	s.cohortOrder = append(s.cohortOrder, key)

	return nil
}

func (s *Storage) AddOpenEvent(event storage.OpenEvent) error {
	s.mu.RLock()
	entry, ok := s.sends[event.TrackingID]
	s.mu.RUnlock()

	if !ok {
		return storage.ErrTrackingIDNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.record.OpenCount++
	openedAt := event.OpenedAt
	entry.record.LastOpenedAt = &openedAt
	entry.opens = append(entry.opens, event)

	return nil
}

func (s *Storage) GetSendRecord(trackingID string) (storage.SendRecord, error) {
	s.mu.RLock()
	entry, ok := s.sends[trackingID]
	s.mu.RUnlock()

	if !ok {
		return storage.SendRecord{}, storage.ErrTrackingIDNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	return entry.record, nil
}

func (s *Storage) ListSendRecords(since time.Time) ([]storage.SendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]storage.SendRecord, 0, len(s.sendOrder))

	for _, id := range s.sendOrder {
		entry := s.sends[id]

		entry.mu.Lock()
		record := entry.record
		entry.mu.Unlock()

		if !since.IsZero() && record.CreatedAt.Before(since) {
			continue
		}

		records = append(records, record)
	}

	return records, nil
}

func (s *Storage) ListOpenEvents(trackingID string) ([]storage.OpenEvent, error) {
	s.mu.RLock()
	entry, ok := s.sends[trackingID]
	s.mu.RUnlock()

	if !ok {
		return nil, storage.ErrTrackingIDNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Newest first, matching the sql storage ordering.
	events := make([]storage.OpenEvent, 0, len(entry.opens))
	for i := len(entry.opens) - 1; i >= 0; i-- {
		events = append(events, entry.opens[i])
	}

	return events, nil
}

func (s *Storage) ListMerchantCohorts() ([]storage.MerchantCohort, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cohorts := make([]storage.MerchantCohort, 0, len(s.cohortOrder))
	for _, key := range s.cohortOrder {
		cohorts = append(cohorts, s.cohorts[key])
	}

	return cohorts, nil
}
