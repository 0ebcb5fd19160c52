package ledger

import "errors"

// ErrReentrantCall is returned when a guarded entry point is re-entered
// before its first invocation returned.
var ErrReentrantCall = errors.New("ledger: reentrant call")

// Guard is a re-entrancy lock scoped to a call. It is not persisted.
type Guard struct {
	entered bool
}

// Enter takes the guard for the remainder of the call or until Exit.
func (g *Guard) Enter(tx *Tx) error {
	if g.entered {
		return ErrReentrantCall
	}
	g.entered = true
	tx.OnRevert(func() { g.entered = false })
	return nil
}

func (g *Guard) Exit(tx *Tx) {
	g.entered = false
	tx.OnRevert(func() { g.entered = true })
}
