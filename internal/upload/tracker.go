package upload

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the state of one tracked upload.
type Status string

const (
	StatusUploading Status = "uploading"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
)

// Progress is what the upload page polls for.
type Progress struct {
	Status      Status `json:"status"`
	Transferred int64  `json:"transferred"`
	Total       int64  `json:"total"`
	Percent     int    `json:"percent"`
	Message     string `json:"message,omitempty"`
	ScoreID     string `json:"scoreId,omitempty"`
}

type tracked struct {
	Progress
	touched time.Time
}

// trackKey scopes client chosen tokens to the owner, so two users sending the
// same token never share an entry.
type trackKey struct {
	owner string
	token string
}

// Tracker records in-flight uploads keyed by owner and token. Finished
// entries are kept for retention so the page can read the final state.
type Tracker struct {
	mu        sync.Mutex
	entries   map[trackKey]*tracked
	retention time.Duration
	now       func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(retention time.Duration) *Tracker {
	return &Tracker{entries: make(map[trackKey]*tracked), retention: retention, now: time.Now}
}

// NewToken returns a fresh upload token.
func NewToken() string {
	return uuid.NewString()
}

// Start registers token for owner. An existing entry of the same owner and
// token is reset.
func (t *Tracker) Start(token, owner string, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sweep()
	t.entries[trackKey{owner, token}] = &tracked{
		Progress: Progress{Status: StatusUploading, Total: total},
		touched:  t.now(),
	}
}

// Func returns a progress callback that updates owner's token.
func (t *Tracker) Func(token, owner string) func(transferred, total int64) {
	key := trackKey{owner, token}
	return func(transferred, total int64) {
		t.mu.Lock()
		defer t.mu.Unlock()
		e, ok := t.entries[key]
		if !ok || e.Status != StatusUploading {
			return
		}
		if transferred < e.Transferred {
			return
		}
		e.Transferred = transferred
		if total > 0 {
			e.Total = total
		}
		e.Percent = percent(e.Transferred, e.Total)
		e.touched = t.now()
	}
}

// Finish marks owner's token done or failed.
func (t *Tracker) Finish(token, owner, scoreID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[trackKey{owner, token}]
	if !ok {
		return
	}
	if err != nil {
		e.Status = StatusFailed
		e.Message = Message(err)
	} else {
		e.Status = StatusDone
		e.ScoreID = scoreID
		e.Percent = 100
	}
	e.touched = t.now()
}

// Get returns the progress of token if owner started it.
func (t *Tracker) Get(token, owner string) (Progress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[trackKey{owner, token}]
	if !ok {
		return Progress{}, false
	}
	return e.Progress, true
}

func (t *Tracker) sweep() {
	cutoff := t.now().Add(-t.retention)
	for key, e := range t.entries {
		if e.Status != StatusUploading && e.touched.Before(cutoff) {
			delete(t.entries, key)
		}
	}
}

func percent(transferred, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(transferred * 100 / total)
	if p > 100 {
		p = 100
	}
	return p
}
