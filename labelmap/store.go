package labelmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/golang/groupcache/lru"

	"github.com/janelia-flyem/NeuroProof-sub000/np"
)

// ErrNotFound is returned when a label has no stored mapping.
var ErrNotFound = errors.New("label mapping not found")

const (
	mappingPrefix byte = 0x01
	defaultCache       = 10000
)

// StoreConfig configures a persistent label mapping store.
type StoreConfig struct {
	// Path is the badger directory.  An empty path keeps the store in memory.
	Path string `toml:"path"`

	// CacheEntries is the number of recently used mappings kept in memory.
	CacheEntries int `toml:"cache_entries"`
}

// Store persists label mappings in a badger database with a small LRU cache
// in front of it.
type Store struct {
	db *badger.DB

	mu    sync.Mutex
	cache *lru.Cache
}

// OpenStore opens or creates the store described by the configuration.
func OpenStore(config StoreConfig) (*Store, error) {
	opts := badger.DefaultOptions(config.Path)
	if config.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil).WithNumVersionsToKeep(1).WithSyncWrites(false)

	timedLog := np.NewTimeLog()
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("could not open label store at %q: %v", config.Path, err)
	}
	timedLog.Infof("Opened label store @ %q", config.Path)

	entries := config.CacheEntries
	if entries <= 0 {
		entries = defaultCache
	}
	return &Store{db: db, cache: lru.New(entries)}, nil
}

func mappingKey(label uint64) []byte {
	k := make([]byte, 9)
	k[0] = mappingPrefix
	binary.BigEndian.PutUint64(k[1:], label)
	return k
}

func labelFromKey(k []byte) (uint64, error) {
	if len(k) != 9 || k[0] != mappingPrefix {
		return 0, fmt.Errorf("bad label store key %x", k)
	}
	return binary.BigEndian.Uint64(k[1:]), nil
}

// Put stores every direct mapping of m in a single transaction.
func (s *Store) Put(m *Mapping) error {
	pairs := m.Pairs()
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	val := make([]byte, 8)
	for _, p := range pairs {
		binary.BigEndian.PutUint64(val, p[1])
		if err := wb.Set(mappingKey(p[0]), append([]byte(nil), val...)); err != nil {
			return fmt.Errorf("could not store mapping %d -> %d: %v", p[0], p[1], err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("could not flush %d mappings: %v", len(pairs), err)
	}
	s.mu.Lock()
	for _, p := range pairs {
		s.cache.Add(p[0], p[1])
	}
	s.mu.Unlock()
	np.Infof("Stored %s label mappings\n", np.Comma(len(pairs)))
	return nil
}

// Get returns the stored direct mapping of a label or ErrNotFound.
func (s *Store) Get(label uint64) (uint64, error) {
	s.mu.Lock()
	if v, ok := s.cache.Get(label); ok {
		s.mu.Unlock()
		return v.(uint64), nil
	}
	s.mu.Unlock()

	var to uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(mappingKey(label))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(value) != 8 {
			return fmt.Errorf("bad mapping value for label %d: %d bytes", label, len(value))
		}
		to = binary.BigEndian.Uint64(value)
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.cache.Add(label, to)
	s.mu.Unlock()
	return to, nil
}

// FinalLabel follows stored mappings from a label to its final label.
func (s *Store) FinalLabel(label uint64) (uint64, error) {
	cur := label
	seen := map[uint64]struct{}{label: {}}
	for {
		next, err := s.Get(cur)
		if err == ErrNotFound {
			return cur, nil
		}
		if err != nil {
			return 0, err
		}
		if _, loop := seen[next]; loop {
			return 0, fmt.Errorf("label mapping cycle through %d", next)
		}
		seen[next] = struct{}{}
		cur = next
	}
}

// Load reads every stored mapping.
func (s *Store) Load() (*Mapping, error) {
	m := NewMapping()
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{mappingPrefix}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			from, err := labelFromKey(item.KeyCopy(nil))
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if len(value) != 8 {
				return fmt.Errorf("bad mapping value for label %d", from)
			}
			m.Set(from, binary.BigEndian.Uint64(value))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
