// Package ledger models the host execution environment the settlement core
// runs in: every state-mutating call executes as one globally serialized,
// all-or-nothing transition over journaled tables.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// ErrPersist is returned by Execute when the backend rejected the commit.
// The in-memory state has been rolled back when this is returned.
var ErrPersist = errors.New("ledger: persist commit")

// Event is an append-only audit signal emitted during a call.
type Event interface {
	EventName() string
}

// Log is a committed event together with the contract that emitted it.
type Log struct {
	Contract common.Address
	Event    Event
	Time     time.Time
}

// Subscriber receives the logs of every committed call, in emission order.
// Subscribers run after the state lock is released.
type Subscriber func(ctx context.Context, logs []Log)

// Write is one durable change produced by a committed call.
type Write struct {
	Table   string
	Key     string
	Value   []byte
	Deleted bool
}

// Backend persists committed writes atomically and restores them at boot.
type Backend interface {
	Commit(ctx context.Context, writes []Write) error
	Load(ctx context.Context, table string) (map[string][]byte, error)
}

type table interface {
	tableName() string
	encode(key string) ([]byte, bool, error)
	restore(raw map[string][]byte) error
}

// State owns every registered table and serializes all calls against them.
type State struct {
	mu      sync.RWMutex
	chainID *big.Int
	clock   func() time.Time
	backend Backend
	tables  map[string]table
	order   []string
	subs    []Subscriber
	log     *zap.Logger
}

// Option configures a State.
type Option func(*State)

// WithBackend makes committed writes durable.
func WithBackend(b Backend) Option {
	return func(s *State) { s.backend = b }
}

// WithClock overrides the execution timestamp source.
func WithClock(fn func() time.Time) Option {
	return func(s *State) { s.clock = fn }
}

// WithLogger sets the logger used for reverted and committed calls.
func WithLogger(l *zap.Logger) Option {
	return func(s *State) { s.log = l }
}

func NewState(chainID *big.Int, opts ...Option) *State {
	s := &State{
		chainID: new(big.Int).Set(chainID),
		clock:   time.Now,
		tables:  make(map[string]table),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ChainID returns the chain identity used for domain separation.
func (s *State) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// Now is the timestamp the next call would execute at.
func (s *State) Now() time.Time { return s.clock() }

// Subscribe registers fn to receive committed logs.
func (s *State) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *State) register(t table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := t.tableName()
	if _, dup := s.tables[name]; dup {
		panic(fmt.Sprintf("ledger: table %q registered twice", name))
	}
	s.tables[name] = t
	s.order = append(s.order, name)
}

// Load overlays every registered table with the content held by the backend.
// It must run after all components are constructed and before serving calls.
func (s *State) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	for _, name := range s.order {
		raw, err := s.backend.Load(ctx, name)
		if err != nil {
			return fmt.Errorf("load table %s: %w", name, err)
		}
		if len(raw) == 0 {
			continue
		}
		if err := s.tables[name].restore(raw); err != nil {
			return fmt.Errorf("restore table %s: %w", name, err)
		}
	}
	return nil
}

// View runs fn under the read side of the state lock: it waits for any call
// in flight and observes only committed state. Views run concurrently with
// each other. fn must not call Execute or View.
func (s *State) View(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

// Execute runs fn as a single atomic call. When fn returns an error (or
// panics) every journaled write is undone and no log is published.
func (s *State) Execute(ctx context.Context, fn func(tx *Tx) error) error {
	logs, subs, err := s.commit(ctx, fn)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		sub(ctx, logs)
	}
	return nil
}

func (s *State) commit(ctx context.Context, fn func(tx *Tx) error) ([]Log, []Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{state: s, now: s.clock(), dirty: make(map[dirtyKey]struct{})}
	done := false
	defer func() {
		if !done {
			tx.revert()
		}
	}()

	if err := fn(tx); err != nil {
		s.log.Debug("call reverted", zap.Error(err))
		return nil, nil, err
	}
	if err := s.persist(ctx, tx); err != nil {
		s.log.Error("commit not persisted", zap.Error(err))
		return nil, nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	done = true
	return tx.logs, append([]Subscriber(nil), s.subs...), nil
}

func (s *State) persist(ctx context.Context, tx *Tx) error {
	if s.backend == nil || len(tx.dirtyOrder) == 0 {
		return nil
	}
	writes := make([]Write, 0, len(tx.dirtyOrder))
	for _, dk := range tx.dirtyOrder {
		raw, ok, err := dk.t.encode(dk.key)
		if err != nil {
			return err
		}
		writes = append(writes, Write{Table: dk.t.tableName(), Key: dk.key, Value: raw, Deleted: !ok})
	}
	return s.backend.Commit(ctx, writes)
}

// TableNames lists the registered tables sorted by name.
func (s *State) TableNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]string(nil), s.order...)
	sort.Strings(out)
	return out
}
