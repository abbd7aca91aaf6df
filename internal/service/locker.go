package service

import "sync"

// AccountLocker serializes ledger mutations per account and tracks which
// positions are being settled. An account's mutex only lives while someone
// holds or waits for it.
type AccountLocker struct {
	mu       sync.Mutex
	accounts map[string]*accountLock
	inflight map[string]struct{}
}

type accountLock struct {
	sync.Mutex
	refs int
}

// NewAccountLocker creates a new AccountLocker
func NewAccountLocker() *AccountLocker {
	return &AccountLocker{
		accounts: make(map[string]*accountLock),
		inflight: make(map[string]struct{}),
	}
}

// Lock blocks until the caller is the only writer for the account and
// returns the matching unlock function
func (l *AccountLocker) Lock(accountID string) func() {
	l.mu.Lock()
	m, ok := l.accounts[accountID]
	if !ok {
		m = &accountLock{}
		l.accounts[accountID] = m
	}
	m.refs++
	l.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()

		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.accounts, accountID)
		}
		l.mu.Unlock()
	}
}

// ClaimPosition marks a position as being settled. It never blocks: a second
// claim while the first is held returns ok=false.
func (l *AccountLocker) ClaimPosition(positionID string) (release func(), ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.inflight[positionID]; busy {
		return nil, false
	}
	l.inflight[positionID] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.inflight, positionID)
		l.mu.Unlock()
	}, true
}
