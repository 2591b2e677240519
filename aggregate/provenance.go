package aggregate

import (
	"sync"
	"time"
)

// ProvenanceRecord ties an aggregated token back to one source image that
// contributed an observation of it. It is a weak back-reference: records
// never own the token or the image.
type ProvenanceRecord struct {
	ImageID    string         `json:"image_id"`
	Confidence float64        `json:"confidence"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Tracker accumulates provenance records per aggregated token during a
// single aggregation run. Its lifetime ends with the run; the resulting
// records travel out inside the Library.
type Tracker struct {
	mu      sync.Mutex
	records map[string][]ProvenanceRecord
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string][]ProvenanceRecord),
		now:     time.Now,
	}
}

// Record appends a provenance record for the given token id.
func (t *Tracker) Record(tokenID, imageID string, confidence float64, metadata map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records[tokenID] = append(t.records[tokenID], ProvenanceRecord{
		ImageID:    imageID,
		Confidence: confidence,
		Timestamp:  t.now().UTC(),
		Metadata:   metadata,
	})
}

// Merge moves every record from srcID under dstID. Used when clustering
// collapses several library entries into one representative.
func (t *Tracker) Merge(dstID, srcID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if dstID == srcID {
		return
	}
	t.records[dstID] = append(t.records[dstID], t.records[srcID]...)
	delete(t.records, srcID)
}

// Records returns the provenance trail for a token id.
func (t *Tracker) Records(tokenID string) []ProvenanceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ProvenanceRecord, len(t.records[tokenID]))
	copy(out, t.records[tokenID])
	return out
}

// All returns a snapshot of every trail keyed by token id.
func (t *Tracker) All() map[string][]ProvenanceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]ProvenanceRecord, len(t.records))
	for k, v := range t.records {
		cp := make([]ProvenanceRecord, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}
