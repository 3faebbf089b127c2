package conversation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu    sync.Mutex
	saves int
	last  *Record
}

func (s *memoryStore) Load(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *memoryStore) Save(record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.last = record
	return nil
}

func TestManagerAppendAndProjection(t *testing.T) {
	store := &memoryStore{}
	m := NewManager(WithStore(store))

	_, err := m.AppendUserMessage(NewMessage(RoleUser, "u1"))
	require.NoError(t, err)
	require.NoError(t, m.AppendResponse(NewMessage(RoleAssistant, "a1")))

	proj := m.Projection()
	require.Len(t, proj, 2)
	assert.Equal(t, "u1", proj[0].Text)
	assert.Equal(t, "a1", proj[1].Text)
	assert.Equal(t, 2, store.saves)
}

func TestManagerSnapshotIsIsolated(t *testing.T) {
	m := NewManager()
	_, err := m.AppendUserMessage(NewMessage(RoleUser, "u1"))
	require.NoError(t, err)

	snap := m.Snapshot()
	require.Len(t, snap.Messages, 1)

	require.NoError(t, m.AppendResponse(NewMessage(RoleAssistant, "a1")))

	// mutating the live tree does not reach into the snapshot
	assert.Len(t, snap.Messages, 1)
	assert.Len(t, snap.Nodes[0].Variants[0].Responses, 0)
	assert.Len(t, m.Projection(), 2)
}

func TestManagerBranchAndSwitch(t *testing.T) {
	m := NewManager()
	nodeID, err := m.AppendUserMessage(NewMessage(RoleUser, "u1"))
	require.NoError(t, err)
	require.NoError(t, m.AppendResponse(NewMessage(RoleAssistant, "a1")))

	_, err = m.CreateBranch(nodeID, NewMessage(RoleUser, "u1b"))
	require.NoError(t, err)
	assert.Equal(t, "u1b", m.Projection()[0].Text)

	require.NoError(t, m.SwitchVariant(nodeID, 0))
	proj := m.Projection()
	require.Len(t, proj, 2)
	assert.Equal(t, "u1", proj[0].Text)
}

func TestManagerSerializesConcurrentAppends(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.AppendUserMessage(NewMessage(RoleUser, "msg"))
		}()
	}
	wg.Wait()

	assert.Len(t, m.Projection(), 10)
}
