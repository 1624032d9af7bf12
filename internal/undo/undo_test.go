package undo

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPop(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	id := s.Push(Action{Type: TypeDelete, ItemIDs: []string{"y"}, ListID: "l", Label: `Deleted "Y"`})
	require.NotEmpty(t, id)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, id, latest.ID)
	assert.False(t, latest.Timestamp.IsZero())

	a, ok := s.Pop(id)
	require.True(t, ok)
	assert.Equal(t, `Deleted "Y"`, a.Label)

	_, ok = s.Pop(id)
	assert.False(t, ok, "second pop of the same id must return nothing")
	_, ok = s.Latest()
	assert.False(t, ok)
}

func TestPopAtMostOnceConcurrently(t *testing.T) {
	s := New(Config{})
	defer s.Close()
	id := s.Push(Action{Type: TypeCheck, ItemIDs: []string{"x"}})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := s.Pop(id); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestBoundEvictsOldest(t *testing.T) {
	s := New(Config{MaxSize: 10})
	defer s.Close()

	var ids []string
	for i := 0; i < 11; i++ {
		ids = append(ids, s.Push(Action{Type: TypeCheck, Label: fmt.Sprintf("action %d", i)}))
	}

	assert.Equal(t, 10, s.Len())
	_, ok := s.Pop(ids[0])
	assert.False(t, ok, "oldest entry should have been evicted")

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, ids[10], latest.ID)
}

func TestExpiry(t *testing.T) {
	s := New(Config{Window: 30 * time.Millisecond})
	defer s.Close()

	id := s.Push(Action{Type: TypeCheck})
	assert.Equal(t, 1, s.Len())

	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := s.Pop(id)
	assert.False(t, ok, "expired entry can no longer be applied")
}

func TestExpiryKeepsNewerEntries(t *testing.T) {
	s := New(Config{Window: 150 * time.Millisecond})
	defer s.Close()

	s.Push(Action{Type: TypeCheck, Label: "old"})
	time.Sleep(100 * time.Millisecond)
	newer := s.Push(Action{Type: TypeCheck, Label: "new"})

	require.Eventually(t, func() bool { return s.Len() == 1 }, time.Second, 2*time.Millisecond)
	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, newer, latest.ID)
}

func TestOnChange(t *testing.T) {
	s := New(Config{})
	defer s.Close()

	var n atomic.Int32
	s.OnChange(func() { n.Add(1) })

	id := s.Push(Action{Type: TypeCheck})
	s.Remove(id)
	s.Remove(id)
	assert.Equal(t, int32(2), n.Load())
}

func TestClosedStackIgnoresPush(t *testing.T) {
	s := New(Config{})
	s.Close()
	s.Push(Action{Type: TypeCheck})
	assert.Equal(t, 0, s.Len())
}
