package profile

import (
	"slices"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/kikuyu-catholic-sheets/sheets/internal/model"
	"github.com/kikuyu-catholic-sheets/sheets/internal/repository"
)

// View is the live list of one owner's scores. Every backend emission
// replaces the list wholesale.
type View struct {
	sub *repository.OwnerSubscription
	log *log.Logger

	mu      sync.RWMutex
	scores  []model.Score
	loading bool
	err     error
	closed  bool

	changes chan struct{}
	once    sync.Once
}

func newView(sub *repository.OwnerSubscription, logger *log.Logger) *View {
	return &View{sub: sub, log: logger, loading: true, changes: make(chan struct{}, 1)}
}

func (v *View) run() {
	defer close(v.changes)
	for snap := range v.sub.Updates() {
		v.mu.Lock()
		if v.closed {
			v.mu.Unlock()
			return
		}
		v.loading = false
		if snap.Err != nil {
			v.err = snap.Err
			v.log.Warn("score subscription error", "err", snap.Err)
		} else {
			v.err = nil
			v.scores = snap.Scores
		}
		v.mu.Unlock()
		select {
		case v.changes <- struct{}{}:
		default:
		}
	}
}

// Scores returns a copy of the current list.
func (v *View) Scores() []model.Score {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.scores)
}

// Loading is true until the first emission arrives.
func (v *View) Loading() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loading
}

// Err returns the last subscription error. The list keeps its previous
// contents while an error is reported.
func (v *View) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.err
}

// Changes signals after each emission. Signals coalesce; the channel is
// closed when the view ends.
func (v *View) Changes() <-chan struct{} {
	return v.changes
}

// Close tears down the subscription. No emission is applied afterwards.
func (v *View) Close() {
	v.once.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()
		v.sub.Close()
	})
}
