package memory

import (
	"context"
	"sync"

	"github.com/fastygo/realty-mesh/repository"
)

type ledgerRepository struct {
	mu   sync.Mutex
	last map[string]int64
}

// NewLedgerRepository returns a process-local ledger, lost on restart.
func NewLedgerRepository() repository.EventLedger {
	return &ledgerRepository{last: make(map[string]int64)}
}

func (r *ledgerRepository) Advance(_ context.Context, id string, ts int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.last[id]; ok && current > ts {
		return false, nil
	}
	r.last[id] = ts
	return true, nil
}

func (r *ledgerRepository) Last(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last[id], nil
}

func (r *ledgerRepository) Close() error {
	return nil
}
