package conversation

import (
	"sync"

	"github.com/pkg/errors"
)

// Store persists conversation records. Implementations decide on the storage
// medium; the manager only cares about load/save by id.
type Store interface {
	Load(id string) (*Record, error)
	Save(record *Record) error
}

// Manager owns one conversation's tree and serializes all mutations. A turn
// (user message, inference, tool calls) runs under a single lock so
// concurrent callers cannot interleave partial updates.
type Manager interface {
	ConversationID() string
	Snapshot() *Record
	Projection() Conversation

	AppendUserMessage(msg Message) (string, error)
	AppendResponse(msg Message) error
	CreateBranch(nodeID string, userMessage Message) (string, error)
	SwitchVariant(nodeID string, variantIndex int) error
	DeleteMessage(messageID string) error
}

type ManagerImpl struct {
	mu     sync.Mutex
	record *Record
	tree   *Tree
	store  Store
}

var _ Manager = (*ManagerImpl)(nil)

type ManagerOption func(*ManagerImpl)

func WithStore(store Store) ManagerOption {
	return func(m *ManagerImpl) {
		m.store = store
	}
}

func WithRecord(record *Record) ManagerOption {
	return func(m *ManagerImpl) {
		m.record = record
	}
}

func NewManager(options ...ManagerOption) *ManagerImpl {
	ret := &ManagerImpl{}
	for _, option := range options {
		option(ret)
	}
	if ret.record == nil {
		ret.record = NewRecord()
	}
	ret.tree = ret.record.Migrate()
	return ret
}

func (m *ManagerImpl) ConversationID() string {
	return m.record.ID
}

// Snapshot returns a deep copy of the record with the current tree applied,
// safe to serialize while other turns proceed.
func (m *ManagerImpl) Snapshot() *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.record.ApplyTree(m.tree)
	cp := *m.record
	cp.Nodes = cloneNodes(m.record.Nodes)
	cp.CurrentVariantPath = append([]string{}, m.record.CurrentVariantPath...)
	cp.VariantMemory = append([]string{}, m.record.VariantMemory...)
	cp.Messages = append(Conversation{}, m.record.Messages...)
	return &cp
}

func cloneNodes(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		nc := *n
		nc.Variants = make([]*Variant, 0, len(n.Variants))
		for _, v := range n.Variants {
			vc := *v
			vc.Responses = append([]Message{}, v.Responses...)
			nc.Variants = append(nc.Variants, &vc)
		}
		out = append(out, &nc)
	}
	return out
}

func (m *ManagerImpl) Projection() Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Projection()
}

func (m *ManagerImpl) AppendUserMessage(msg Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	nodeID, err := m.tree.AddUserMessageAsNewNode(msg)
	if err != nil {
		return "", err
	}
	return nodeID, m.persist()
}

func (m *ManagerImpl) AppendResponse(msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tree.AddResponseToCurrentVariant(msg); err != nil {
		return err
	}
	return m.persist()
}

func (m *ManagerImpl) CreateBranch(nodeID string, userMessage Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	variantID, err := m.tree.CreateBranch(nodeID, userMessage)
	if err != nil {
		return "", err
	}
	return variantID, m.persist()
}

func (m *ManagerImpl) SwitchVariant(nodeID string, variantIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tree.SwitchVariant(nodeID, variantIndex); err != nil {
		return err
	}
	return m.persist()
}

func (m *ManagerImpl) DeleteMessage(messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.tree.DeleteMessage(messageID); err != nil {
		return err
	}
	return m.persist()
}

// persist is called with m.mu held.
func (m *ManagerImpl) persist() error {
	m.record.ApplyTree(m.tree)
	if m.store == nil {
		return nil
	}
	if err := m.store.Save(m.record); err != nil {
		return errors.Wrap(err, "could not save conversation")
	}
	return nil
}
