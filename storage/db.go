package storage

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// Database is a generic interface for a key-value store backing the protocol
// state. Both the in-memory and the persistent variants expose the trie node
// database so the state trie always writes through the same store.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	TrieDB() *triedb.Database
	Close() // A way to gracefully shut down the database connection.
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu     sync.RWMutex
	disk   ethdb.Database
	trieDB *triedb.Database
	closed bool
}

func NewMemDB() *MemDB {
	disk := rawdb.NewDatabase(memorydb.New())
	return &MemDB{
		disk:   disk,
		trieDB: triedb.NewDatabase(disk, nil),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return fmt.Errorf("storage: database closed")
	}
	return db.disk.Put(key, value)
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, fmt.Errorf("storage: database closed")
	}
	value, err := db.disk.Get(key)
	if err != nil {
		return nil, fmt.Errorf("key not found")
	}
	return value, nil
}

// TrieDB returns the node database layered over the in-memory store.
func (db *MemDB) TrieDB() *triedb.Database {
	return db.trieDB
}

// Close releases the trie database. The in-memory store is discarded.
func (db *MemDB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return
	}
	db.closed = true
	db.trieDB.Close()
	db.disk.Close()
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	disk   ethdb.Database
	trieDB *triedb.Database
}

const levelDBNamespace = "exchangefunds/db/"

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	kv, err := leveldb.NewCustom(path, levelDBNamespace, func(options *opt.Options) {
		options.OpenFilesCacheCapacity = 64
		options.BlockCacheCapacity = 16 * opt.MiB
		options.WriteBuffer = 8 * opt.MiB
	})
	if err != nil {
		return nil, err
	}
	disk := rawdb.NewDatabase(kv)
	return &LevelDB{disk: disk, trieDB: triedb.NewDatabase(disk, nil)}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.disk.Put(key, value)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return ldb.disk.Get(key)
}

// TrieDB returns the node database layered over LevelDB.
func (ldb *LevelDB) TrieDB() *triedb.Database {
	return ldb.trieDB
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.trieDB.Close()
	ldb.disk.Close()
}
