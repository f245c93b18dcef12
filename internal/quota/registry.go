package quota

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type Account struct {
	ID           string
	DisplayName  string
	Active       bool
	LifetimeUsed int
	DailyUsed    map[Kind]int
	ConnectedAt  time.Time
	LastActionAt time.Time
}

func (a Account) DailyUsedTotal() int {
	total := 0
	for _, count := range a.DailyUsed {
		total += count
	}
	return total
}

// Registry tracks connected agent accounts and their consumption counters.
// Accounts are never deleted: a disconnect flips Active off so lifetime
// counters survive reconnects.
type Registry struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

func NewRegistry() *Registry {
	return &Registry{accounts: map[string]*Account{}}
}

// Register creates the account or reactivates a previously disconnected one.
// Returns true when the active set changed.
func (r *Registry) Register(id, displayName string, now time.Time) bool {
	id = strings.TrimSpace(id)
	if id == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		r.accounts[id] = &Account{
			ID:          id,
			DisplayName: strings.TrimSpace(displayName),
			Active:      true,
			DailyUsed:   map[Kind]int{},
			ConnectedAt: now,
		}
		return true
	}
	if name := strings.TrimSpace(displayName); name != "" {
		account.DisplayName = name
	}
	if account.Active {
		return false
	}
	account.Active = true
	account.ConnectedAt = now
	return true
}

// Deactivate marks the account as disconnected. Returns true when the active
// set changed.
func (r *Registry) Deactivate(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[strings.TrimSpace(id)]
	if !ok || !account.Active {
		return false
	}
	account.Active = false
	return true
}

// Sync reconciles the registry with the current upstream membership. Any
// account missing from the list is deactivated, any listed account is
// registered or reactivated. Returns true when the active set changed.
func (r *Registry) Sync(members map[string]string, now time.Time) bool {
	changed := false
	for id, name := range members {
		if r.Register(id, name, now) {
			changed = true
		}
	}
	r.mu.Lock()
	var toDeactivate []string
	for id, account := range r.accounts {
		if !account.Active {
			continue
		}
		if _, ok := members[id]; !ok {
			toDeactivate = append(toDeactivate, id)
		}
	}
	r.mu.Unlock()
	for _, id := range toDeactivate {
		if r.Deactivate(id) {
			changed = true
		}
	}
	return changed
}

func (r *Registry) Get(id string) (Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[strings.TrimSpace(id)]
	if !ok {
		return Account{}, false
	}
	return copyAccount(account), true
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, account := range r.accounts {
		if account.Active {
			count++
		}
	}
	return count
}

func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.accounts))
	for id, account := range r.accounts {
		if account.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) List() []Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	accounts := make([]Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		accounts = append(accounts, copyAccount(account))
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts
}

// ResetDailyCounters clears every account's per-day usage. Called by the
// allocator when the daily quota rolls over.
func (r *Registry) ResetDailyCounters() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		account.DailyUsed = map[Kind]int{}
	}
}

func (r *Registry) addUsage(id string, kind Kind, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return false
	}
	account.LifetimeUsed++
	if account.DailyUsed == nil {
		account.DailyUsed = map[Kind]int{}
	}
	account.DailyUsed[kind]++
	account.LastActionAt = now
	return true
}

// Restore replaces registry contents from a persisted checkpoint.
func (r *Registry) Restore(accounts []Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[string]*Account, len(accounts))
	for _, account := range accounts {
		stored := account
		if stored.DailyUsed == nil {
			stored.DailyUsed = map[Kind]int{}
		}
		r.accounts[stored.ID] = &stored
	}
}

func copyAccount(account *Account) Account {
	copied := *account
	copied.DailyUsed = make(map[Kind]int, len(account.DailyUsed))
	for kind, count := range account.DailyUsed {
		copied.DailyUsed[kind] = count
	}
	return copied
}
