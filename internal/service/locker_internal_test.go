package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccountLocker_ForgetsReleasedAccounts(t *testing.T) {
	locker := NewAccountLocker()

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := locker.Lock(fmt.Sprintf("acc-%d", i%20))
			unlock()
		}(i)
	}
	wg.Wait()

	locker.mu.Lock()
	defer locker.mu.Unlock()
	assert.Empty(t, locker.accounts)
}

func TestAccountLocker_KeepsLockWhileWaitersRemain(t *testing.T) {
	locker := NewAccountLocker()

	unlock := locker.Lock("acc-1")
	acquired := make(chan func())
	go func() {
		acquired <- locker.Lock("acc-1")
	}()

	assert.Eventually(t, func() bool {
		locker.mu.Lock()
		defer locker.mu.Unlock()
		return locker.accounts["acc-1"] != nil && locker.accounts["acc-1"].refs == 2
	}, time.Second, time.Millisecond)

	unlock()
	second := <-acquired

	locker.mu.Lock()
	assert.Len(t, locker.accounts, 1)
	locker.mu.Unlock()

	second()
	locker.mu.Lock()
	assert.Empty(t, locker.accounts)
	locker.mu.Unlock()
}
