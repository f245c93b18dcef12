package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/dwizi/boost-runtime/internal/quota"
)

type ExecutedAction struct {
	AccountID string
	Kind      quota.Kind
	ContentID string
	Payload   string
}

// Mock is an in-memory stand-in for every collaborator. Tests script failures
// per account; the serve command uses it in simulation mode so the engine can
// run end to end without a wire client.
type Mock struct {
	mu        sync.Mutex
	accounts  []AccountInfo
	content   []string
	failures  map[string]error
	executed  []ExecutedAction
	execCalls int
}

func NewMock(accounts []AccountInfo, content []string) *Mock {
	return &Mock{
		accounts: accounts,
		content:  content,
		failures: map[string]error{},
	}
}

func (m *Mock) ListActiveAccounts(ctx context.Context) ([]AccountInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AccountInfo, len(m.accounts))
	copy(out, m.accounts)
	return out, nil
}

func (m *Mock) SetAccounts(accounts []AccountInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = accounts
}

func (m *Mock) ListCandidates(ctx context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit > 0 && limit < len(m.content) {
		return append([]string{}, m.content[:limit]...), nil
	}
	return append([]string{}, m.content...), nil
}

// FailWith makes every execution for the account return err until cleared.
func (m *Mock) FailWith(accountID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, accountID)
		return
	}
	m.failures[accountID] = err
}

func (m *Mock) Execute(ctx context.Context, accountID string, kind quota.Kind, contentID, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execCalls++
	if err, ok := m.failures[accountID]; ok {
		return fmt.Errorf("execute %s for %s: %w", kind, accountID, err)
	}
	m.executed = append(m.executed, ExecutedAction{
		AccountID: accountID,
		Kind:      kind,
		ContentID: contentID,
		Payload:   payload,
	})
	return nil
}

func (m *Mock) Executed() []ExecutedAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecutedAction, len(m.executed))
	copy(out, m.executed)
	return out
}

func (m *Mock) ExecCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.execCalls
}
