package state

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionIsNull(t *testing.T) {
	s := NewSession()

	assert.True(t, s.Read().IsNull())
	assert.False(t, s.Initialized())
	assert.Zero(t, s.Calls())
}

func TestSessionWriteReplaces(t *testing.T) {
	s := NewSession()

	s.Write(7)
	s.Write(9)

	assert.Equal(t, Handle(9), s.Read())
	assert.Equal(t, uint64(2), s.Calls())

	s.MarkInitialized()
	assert.True(t, s.Initialized())
}

func TestHandleString(t *testing.T) {
	assert.Equal(t, "state#0000002a", Handle(42).String())
}

func TestSessionAcquireSerialises(t *testing.T) {
	s := NewSession()

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Acquire()
			defer s.Release()
			s.Write(s.Read() + 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, Handle(50), s.Read())
}
