package sync

import (
	"context"
	"fmt"
	stdsync "sync"

	"go.uber.org/zap"
)

// Manager serializes runs per principal: two concurrent triggers for the
// same principal would only waste duplicate fetch work, so the second one
// is rejected with ErrAlreadyRunning. Runs for different principals
// proceed in parallel.
type Manager struct {
	runner  *Runner
	log     *zap.Logger
	mu      stdsync.Mutex
	running map[string]struct{}
}

// NewManager creates a manager around one configured runner.
func NewManager(runner *Runner, log *zap.Logger) *Manager {
	return &Manager{
		runner:  runner,
		log:     log,
		running: make(map[string]struct{}),
	}
}

// RunSync executes one synchronous run for a principal.
func (m *Manager) RunSync(ctx context.Context, principalID string) (*Summary, error) {
	if !m.acquire(principalID) {
		return nil, fmt.Errorf("%s: %w", principalID, ErrAlreadyRunning)
	}
	defer m.release(principalID)

	return m.runner.Run(ctx, principalID)
}

// PrincipalResult pairs a principal with its run outcome.
type PrincipalResult struct {
	PrincipalID string   `json:"principal_id"`
	Summary     *Summary `json:"summary,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// RunSyncAll runs every registered principal in parallel and returns a
// result per principal. Per-principal failures never abort the others.
func (m *Manager) RunSyncAll(ctx context.Context) ([]PrincipalResult, error) {
	principals, err := m.runner.Store.ListPrincipals(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing principals: %w", err)
	}

	results := make([]PrincipalResult, len(principals))
	var wg stdsync.WaitGroup
	for i, p := range principals {
		wg.Add(1)
		go func(idx int, principalID string) {
			defer wg.Done()

			summary, err := m.RunSync(ctx, principalID)
			res := PrincipalResult{PrincipalID: principalID, Summary: summary}
			if err != nil {
				res.Error = err.Error()
				m.log.Warn("sync failed", zap.String("principal", principalID), zap.Error(err))
			}
			results[idx] = res
		}(i, p.ID)
	}
	wg.Wait()

	return results, nil
}

// IsRunning reports whether a run is in flight for the principal.
func (m *Manager) IsRunning(principalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[principalID]
	return ok
}

func (m *Manager) acquire(principalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[principalID]; ok {
		return false
	}
	m.running[principalID] = struct{}{}
	return true
}

func (m *Manager) release(principalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, principalID)
}
