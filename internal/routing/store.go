package routing

import (
	"sync"
	"sync/atomic"

	"github.com/DragonSecurity/gwbridge/pkg/util"
)

// Store holds the live table for a routing file. Readers never lock; a reload
// swaps in a freshly built table only when the whole file is valid.
type Store struct {
	path string
	log  *util.Logger

	reloadMu sync.Mutex
	cur      atomic.Pointer[Table]
}

func NewStore(path string, log *util.Logger) (*Store, error) {
	t, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, log: log}
	s.cur.Store(t)
	return s, nil
}

func (s *Store) Path() string  { return s.path }
func (s *Store) Table() *Table { return s.cur.Load() }

func (s *Store) Resolve(op string) (Target, error) {
	return s.cur.Load().Resolve(op)
}

// Reload re-reads the file. On error the current table stays in place.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	t, err := LoadFile(s.path)
	if err != nil {
		s.log.Errorf("reload failed, keeping previous routes: %v", err)
		return err
	}
	s.cur.Store(t)
	_, hasDefault := t.Default()
	s.log.Infof("routing table reloaded from %s: %d routes (default=%v)", s.path, t.Len(), hasDefault)
	return nil
}
