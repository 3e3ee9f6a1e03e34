package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"exchangefunds/storage/trie"
)

// Manager is the shared protocol state aggregate. Every module holds a narrow
// view over the same manager (a KV namespace plus sequences) instead of owning
// storage of its own.
//
// Manager is not safe for concurrent use; the host serialises state
// transitions.
type Manager struct {
	trie   *trie.Trie
	height uint64
	depth  int
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

var sequencePrefix = []byte("seq/")

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func sequenceKey(name string) []byte {
	buf := make([]byte, len(sequencePrefix)+len(name))
	copy(buf, sequencePrefix)
	copy(buf[len(sequencePrefix):], name)
	return buf
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the trie.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

// NextID allocates the next identifier of the named sequence. Identifiers
// start at 1 and every call returns exactly one more than the previous call
// for the same sequence, so 0 stays free as the "unset" marker.
func (m *Manager) NextID(sequence string) (uint64, error) {
	if sequence == "" {
		return 0, fmt.Errorf("kv: sequence name required")
	}
	key := sequenceKey(sequence)
	var last uint64
	if _, err := m.KVGet(key, &last); err != nil {
		return 0, err
	}
	next := last + 1
	if err := m.KVPut(key, next); err != nil {
		return 0, err
	}
	return next, nil
}

// PeekID returns the identifier the next NextID call would allocate without
// consuming it.
func (m *Manager) PeekID(sequence string) (uint64, error) {
	var last uint64
	if _, err := m.KVGet(sequenceKey(sequence), &last); err != nil {
		return 0, err
	}
	return last + 1, nil
}

// Atomic runs fn as one indivisible state transition. When fn returns an error
// or panics every mutation it made is discarded. Nested calls join the
// outermost transition.
func (m *Manager) Atomic(fn func() error) (err error) {
	if m.depth > 0 {
		return fn()
	}
	snapshot := m.trie.Copy()
	m.depth++
	defer func() {
		m.depth--
		if r := recover(); r != nil {
			m.trie = snapshot
			panic(r)
		}
		if err != nil {
			m.trie = snapshot
		}
	}()
	return fn()
}

// Commit persists the pending state and returns the new root.
func (m *Manager) Commit() (common.Hash, error) {
	if m.depth > 0 {
		return common.Hash{}, fmt.Errorf("kv: commit inside atomic transition")
	}
	root, err := m.trie.Commit(m.trie.Root(), m.height+1)
	if err != nil {
		return common.Hash{}, err
	}
	m.height++
	return root, nil
}

// Root returns the root of the pending state including uncommitted changes.
func (m *Manager) Root() common.Hash {
	return m.trie.Hash()
}
