// Package memory provides an in-memory ledger for development and testing.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fiscalops/docharvest/internal/harvest"
)

// Store implements harvest.Ledger with a mutex-guarded map.
type Store struct {
	mu      sync.RWMutex
	entries map[harvest.RequestKey]harvest.RetrievalRequest
	order   []harvest.RequestKey
}

// NewStore constructs a Store.
func NewStore() *Store {
	return &Store{
		entries: make(map[harvest.RequestKey]harvest.RetrievalRequest),
	}
}

// EnsureRequest inserts a pending entry if none exists and returns the stored
// entry either way.
func (s *Store) EnsureRequest(_ context.Context, key harvest.RequestKey) (harvest.RetrievalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(key), nil
}

func (s *Store) ensureLocked(key harvest.RequestKey) harvest.RetrievalRequest {
	if entry, ok := s.entries[key]; ok {
		return entry
	}
	now := time.Now().UTC()
	entry := harvest.RetrievalRequest{
		ID:        uuid.New(),
		Key:       key,
		Status:    harvest.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.entries[key] = entry
	s.order = append(s.order, key)
	return entry
}

// FindByKey returns the entry for key, or harvest.ErrNotFound.
func (s *Store) FindByKey(_ context.Context, key harvest.RequestKey) (harvest.RetrievalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return harvest.RetrievalRequest{}, harvest.ErrNotFound
	}
	return entry, nil
}

// mutate upserts the entry for key and applies fn, unless the entry already
// reached StatusSuccess. Success is final.
func (s *Store) mutate(key harvest.RequestKey, fn func(*harvest.RetrievalRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.ensureLocked(key)
	if entry.Status == harvest.StatusSuccess {
		return
	}
	fn(&entry)
	entry.UpdatedAt = time.Now().UTC()
	s.entries[key] = entry
}

// AdvanceToProcessing marks the start of a discovery attempt.
func (s *Store) AdvanceToProcessing(_ context.Context, key harvest.RequestKey) error {
	s.mutate(key, func(e *harvest.RetrievalRequest) {
		e.Status = harvest.StatusProcessing
	})
	return nil
}

// RecordWarning stores a benign terminal skip.
func (s *Store) RecordWarning(_ context.Context, key harvest.RequestKey, message, screenshotPath string) error {
	s.mutate(key, func(e *harvest.RetrievalRequest) {
		e.Status = harvest.StatusWarning
		e.WarningMessage = message
		if screenshotPath != "" {
			e.ScreenshotPath = screenshotPath
		}
	})
	return nil
}

// RecordError stores a failed attempt.
func (s *Store) RecordError(_ context.Context, key harvest.RequestKey, message, screenshotPath string) error {
	s.mutate(key, func(e *harvest.RetrievalRequest) {
		e.Status = harvest.StatusError
		e.WarningMessage = message
		if screenshotPath != "" {
			e.ScreenshotPath = screenshotPath
		}
	})
	return nil
}

// RecordLinkFound stores a located download link and sets queued. Status is
// left untouched; queued alone gates the download phase.
func (s *Store) RecordLinkFound(_ context.Context, key harvest.RequestKey, url, fileName string) error {
	s.mutate(key, func(e *harvest.RetrievalRequest) {
		e.Queued = true
		e.LinkDownload = url
		e.FileName = fileName
	})
	return nil
}

// RecordDownloaded stores the fetched artifact and marks the entry successful.
func (s *Store) RecordDownloaded(_ context.Context, key harvest.RequestKey, filePath, screenshotPath string) error {
	s.mutate(key, func(e *harvest.RetrievalRequest) {
		e.Status = harvest.StatusSuccess
		e.FilePath = filePath
		if screenshotPath != "" {
			e.ScreenshotPath = screenshotPath
		}
	})
	return nil
}

// ListEligibleForDiscovery returns unqueued entries whose status is in
// statuses (pending only when the filter is empty), in creation order.
func (s *Store) ListEligibleForDiscovery(_ context.Context, statuses []harvest.Status) ([]harvest.RetrievalRequest, error) {
	if len(statuses) == 0 {
		statuses = []harvest.Status{harvest.StatusPending}
	}
	allowed := make(map[harvest.Status]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.RetrievalRequest
	for _, key := range s.order {
		entry := s.entries[key]
		if !entry.Queued && allowed[entry.Status] {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ListQueuedNotDownloaded returns queued entries not yet successful, in
// creation order.
func (s *Store) ListQueuedNotDownloaded(_ context.Context) ([]harvest.RetrievalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []harvest.RetrievalRequest
	for _, key := range s.order {
		entry := s.entries[key]
		if entry.Queued && entry.Status != harvest.StatusSuccess {
			out = append(out, entry)
		}
	}
	return out, nil
}

// ListAll returns every entry in creation order.
func (s *Store) ListAll(_ context.Context) ([]harvest.RetrievalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]harvest.RetrievalRequest, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.entries[key])
	}
	return out, nil
}

// Delete removes the entry for key, if present.
func (s *Store) Delete(_ context.Context, key harvest.RequestKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
