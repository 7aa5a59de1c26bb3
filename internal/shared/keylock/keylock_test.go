package keylock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLockSerializesSameKey(t *testing.T) {
	kl := New()

	const workers = 50
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kl.Do("user-1", func() {
				counter++
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}

func TestLockReturnsUnlock(t *testing.T) {
	kl := New()

	unlock := kl.Lock("k")
	unlock()

	// se o unlock não liberou, este segundo Lock trava o teste
	done := make(chan struct{})
	go func() {
		defer kl.Lock("k")()
		close(done)
	}()
	<-done
}
