package upload

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/educaid/docverify-worker/internal/processor"
	"github.com/educaid/docverify-worker/internal/verification"
)

// SlotState is the lifecycle position of a stored slot. Committed and
// cancelled slots are removed, so they never appear here.
type SlotState string

const (
	SlotStaged    SlotState = "staged"
	SlotProcessed SlotState = "processed"
)

// Slot is one applicant's in-flight submission for one document type
type Slot struct {
	ApplicantID      string               `json:"applicant_id"`
	DocumentType     string               `json:"document_type"`
	State            SlotState            `json:"state"`
	TempPath         string               `json:"temp_path"`
	OriginalFilename string               `json:"original_filename"`
	MimeType         string               `json:"mime_type"`
	Size             int64                `json:"size"`
	UploadedAt       time.Time            `json:"uploaded_at"`
	OCRProcessedAt   *time.Time           `json:"ocr_processed_at,omitempty"`
	Verification     *verification.Result `json:"verification,omitempty"`
}

// VerifyPath is the verification sidecar written after processing.
func (s *Slot) VerifyPath() string { return s.TempPath + ".verify.json" }

// ConfidencePath is the confidence sidecar written after processing.
func (s *Slot) ConfidencePath() string { return s.TempPath + ".confidence.json" }

// Sidecars are the reports that travel with the file on commit.
func (s *Slot) Sidecars() []string {
	return []string{s.VerifyPath(), s.ConfidencePath()}
}

// Artifacts is every temp file the slot owns.
func (s *Slot) Artifacts() []string {
	paths := append([]string{s.TempPath}, s.Sidecars()...)
	return append(paths, processor.AuditPaths(s.TempPath)...)
}

// SlotStore holds at most one slot per (applicant, document type)
type SlotStore interface {
	Get(ctx context.Context, applicantID, docType string) (*Slot, bool, error)
	Put(ctx context.Context, slot *Slot) error
	Delete(ctx context.Context, applicantID, docType string) error
	List(ctx context.Context, applicantID string) ([]*Slot, error)
	All(ctx context.Context) ([]*Slot, error)
}

type slotKey struct {
	applicant string
	docType   string
}

// MemorySlotStore keeps slots in process memory
type MemorySlotStore struct {
	mu    sync.RWMutex
	slots map[slotKey]Slot
}

// NewMemorySlotStore creates an empty in-process store.
func NewMemorySlotStore() *MemorySlotStore {
	return &MemorySlotStore{slots: make(map[slotKey]Slot)}
}

func (m *MemorySlotStore) Get(_ context.Context, applicantID, docType string) (*Slot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.slots[slotKey{applicantID, docType}]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

func (m *MemorySlotStore) Put(_ context.Context, slot *Slot) error {
	m.mu.Lock()
	m.slots[slotKey{slot.ApplicantID, slot.DocumentType}] = *slot
	m.mu.Unlock()
	return nil
}

func (m *MemorySlotStore) Delete(_ context.Context, applicantID, docType string) error {
	m.mu.Lock()
	delete(m.slots, slotKey{applicantID, docType})
	m.mu.Unlock()
	return nil
}

func (m *MemorySlotStore) List(_ context.Context, applicantID string) ([]*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Slot
	for k, s := range m.slots {
		if k.applicant == applicantID {
			s := s
			out = append(out, &s)
		}
	}
	sortSlots(out)
	return out, nil
}

func (m *MemorySlotStore) All(_ context.Context) ([]*Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Slot, 0, len(m.slots))
	for _, s := range m.slots {
		s := s
		out = append(out, &s)
	}
	sortSlots(out)
	return out, nil
}

func sortSlots(slots []*Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].ApplicantID != slots[j].ApplicantID {
			return slots[i].ApplicantID < slots[j].ApplicantID
		}
		return slots[i].DocumentType < slots[j].DocumentType
	})
}
