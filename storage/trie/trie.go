package trie

import (
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/trie/trienode"
	"github.com/ethereum/go-ethereum/triedb"

	"exchangefunds/storage"
)

// Trie is the authenticated key space behind protocol state. Pending updates
// live in memory until Commit writes them to the node database; the committed
// root can be reopened later with NewTrie.
//
// Callers hash keys before use. Trie is not safe for concurrent use.
type Trie struct {
	nodes     *triedb.Database
	pending   *gethtrie.Trie
	committed common.Hash
}

// NewTrie opens the trie at root over store. A nil or empty root opens the
// empty trie.
func NewTrie(store storage.Database, root []byte) (*Trie, error) {
	t := &Trie{nodes: store.TrieDB(), committed: gethtypes.EmptyRootHash}
	if len(root) > 0 {
		t.committed = common.BytesToHash(root)
	}
	if err := t.reopen(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Trie) reopen() error {
	pending, err := gethtrie.New(gethtrie.TrieID(t.committed), t.nodes)
	if err != nil {
		return err
	}
	t.pending = pending
	return nil
}

// Get returns the value under key, or nil when the key is absent.
func (t *Trie) Get(key []byte) ([]byte, error) {
	return t.pending.Get(key)
}

func (t *Trie) Update(key, value []byte) error {
	return t.pending.Update(key, value)
}

func (t *Trie) Delete(key []byte) error {
	return t.pending.Delete(key)
}

// Hash is the root over committed and pending updates.
func (t *Trie) Hash() common.Hash {
	return t.pending.Hash()
}

// Root is the last committed root.
func (t *Trie) Root() common.Hash {
	return t.committed
}

// Discard drops pending updates and returns to the last committed root.
func (t *Trie) Discard() error {
	return t.reopen()
}

// Copy returns an independent view of the pending trie. It serves as the
// restore point of an atomic state transition.
func (t *Trie) Copy() *Trie {
	return &Trie{nodes: t.nodes, pending: t.pending.Copy(), committed: t.committed}
}

// Commit writes pending nodes at height on top of parent and returns the new
// committed root.
func (t *Trie) Commit(parent common.Hash, height uint64) (common.Hash, error) {
	root, set := t.pending.Commit(false)
	if set != nil {
		merged := trienode.NewMergedNodeSet()
		if err := merged.Merge(set); err != nil {
			return common.Hash{}, err
		}
		if err := t.nodes.Update(root, parent, height, merged, nil); err != nil {
			return common.Hash{}, err
		}
		if err := t.nodes.Commit(root, false); err != nil {
			return common.Hash{}, err
		}
	}
	t.committed = root
	if err := t.reopen(); err != nil {
		return common.Hash{}, err
	}
	return root, nil
}
