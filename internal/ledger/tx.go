package ledger

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type dirtyKey struct {
	t   table
	key string
}

// Tx is the journal of one call. It is only valid inside the Execute
// callback that created it.
type Tx struct {
	state      *State
	now        time.Time
	journal    []func()
	dirty      map[dirtyKey]struct{}
	dirtyOrder []dirtyKey
	logs       []Log
}

// Now returns the execution timestamp of the call.
func (tx *Tx) Now() time.Time { return tx.now }

// Timestamp returns the execution timestamp in unix seconds.
func (tx *Tx) Timestamp() uint64 { return uint64(tx.now.Unix()) }

// ChainID returns the chain identity of the host.
func (tx *Tx) ChainID() *big.Int { return tx.state.ChainID() }

// Emit appends an audit log. Logs of a reverted call are discarded.
func (tx *Tx) Emit(contract common.Address, ev Event) {
	tx.logs = append(tx.logs, Log{Contract: contract, Event: ev, Time: tx.now})
}

// OnRevert registers undo to run if the call (or the enclosing Try) fails.
func (tx *Tx) OnRevert(undo func()) {
	tx.journal = append(tx.journal, undo)
}

// Try runs fn and rolls back only fn's writes and logs when it fails. The
// error is returned to the caller, which may choose to continue.
func (tx *Tx) Try(fn func() error) error {
	mark, logMark := len(tx.journal), len(tx.logs)
	if err := fn(); err != nil {
		for i := len(tx.journal) - 1; i >= mark; i-- {
			tx.journal[i]()
		}
		tx.journal = tx.journal[:mark]
		tx.logs = tx.logs[:logMark]
		return err
	}
	return nil
}

func (tx *Tx) touch(t table, key string) {
	dk := dirtyKey{t: t, key: key}
	if _, ok := tx.dirty[dk]; ok {
		return
	}
	tx.dirty[dk] = struct{}{}
	tx.dirtyOrder = append(tx.dirtyOrder, dk)
}

func (tx *Tx) revert() {
	for i := len(tx.journal) - 1; i >= 0; i-- {
		tx.journal[i]()
	}
	tx.journal = nil
	tx.logs = nil
	tx.dirty = make(map[dirtyKey]struct{})
	tx.dirtyOrder = nil
}
