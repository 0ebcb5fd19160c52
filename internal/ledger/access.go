package ledger

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotOwner  = errors.New("ledger: caller is not the owner")
	ErrZeroOwner = errors.New("ledger: new owner is the zero address")
	ErrPaused    = errors.New("ledger: paused")
	ErrNotPaused = errors.New("ledger: not paused")
)

type OwnershipTransferred struct {
	Previous common.Address `json:"previous"`
	Next     common.Address `json:"next"`
}

func (OwnershipTransferred) EventName() string { return "OwnershipTransferred" }

type Paused struct {
	Account common.Address `json:"account"`
}

func (Paused) EventName() string { return "Paused" }

type Unpaused struct {
	Account common.Address `json:"account"`
}

func (Unpaused) EventName() string { return "Unpaused" }

// Ownable is a single-owner capability check. Privileged operations take
// the caller explicitly and compare it against the stored owner.
type Ownable struct {
	contract common.Address
	owner    *Slot[common.Address]
}

// NewOwnable registers the owner slot of contract under name+":owner".
func NewOwnable(st *State, name string, contract, owner common.Address) *Ownable {
	return &Ownable{contract: contract, owner: NewSlot(st, name+":owner", owner)}
}

func (o *Ownable) Owner() common.Address { return o.owner.Get() }

func (o *Ownable) OnlyOwner(caller common.Address) error {
	if caller != o.owner.Get() {
		return ErrNotOwner
	}
	return nil
}

func (o *Ownable) TransferOwnership(tx *Tx, caller, next common.Address) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return ErrZeroOwner
	}
	prev := o.owner.Get()
	o.owner.Set(tx, next)
	tx.Emit(o.contract, OwnershipTransferred{Previous: prev, Next: next})
	return nil
}

// Pausable is an owner-controlled circuit breaker.
type Pausable struct {
	*Ownable
	paused *Slot[bool]
}

func NewPausable(st *State, name string, owned *Ownable) *Pausable {
	return &Pausable{Ownable: owned, paused: NewSlot(st, name+":paused", false)}
}

func (p *Pausable) Paused() bool { return p.paused.Get() }

// WhenNotPaused returns ErrPaused while the breaker is tripped.
func (p *Pausable) WhenNotPaused() error {
	if p.paused.Get() {
		return ErrPaused
	}
	return nil
}

func (p *Pausable) Pause(tx *Tx, caller common.Address) error {
	if err := p.OnlyOwner(caller); err != nil {
		return err
	}
	if err := p.WhenNotPaused(); err != nil {
		return err
	}
	p.paused.Set(tx, true)
	tx.Emit(p.contract, Paused{Account: caller})
	return nil
}

func (p *Pausable) Unpause(tx *Tx, caller common.Address) error {
	if err := p.OnlyOwner(caller); err != nil {
		return err
	}
	if !p.paused.Get() {
		return ErrNotPaused
	}
	p.paused.Set(tx, false)
	tx.Emit(p.contract, Unpaused{Account: caller})
	return nil
}
