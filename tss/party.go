// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Party is the common driver interface shared by DKG and signing sessions,
// coordinator-side and signer-side alike. A round-based state machine
// (Round) is plugged in via FirstRound/setRound/advance; Party just drives
// it to completion as messages are stored.
type Party interface {
	Start() *Error
	// Update is the entry point for advancing a party's state with a
	// message parsed off the wire.
	Update(msg ParsedMessage) (ok bool, err *Error)
	WaitingFor() []*Participant
	ValidateMessage(msg ParsedMessage) (bool, *Error)
	StoreMessage(msg ParsedMessage) (bool, *Error)
	FirstRound() Round
	WrapError(err error, culprits ...*Participant) *Error
	String() string

	// Private lifecycle methods
	setRound(Round) *Error
	round() Round
	advance()
	lock()
	unlock()
}

// BaseParty implements the lifecycle plumbing (locking, round advancement)
// shared across every session type; embed it and provide FirstRound/
// StoreMessage/WrapError to get a working Party.
type BaseParty struct {
	mtx sync.Mutex
	rnd Round
	Log *zap.SugaredLogger
}

func (p *BaseParty) WaitingFor() []*Participant {
	p.lock()
	defer p.unlock()
	return p.rnd.WaitingFor()
}

func (p *BaseParty) WrapError(err error, culprits ...*Participant) *Error {
	return p.rnd.WrapError(err, culprits...)
}

// ValidateMessage implements the checks shared across every session type;
// concrete sessions embedding BaseParty get this for free to satisfy Party.
func (p *BaseParty) ValidateMessage(msg ParsedMessage) (bool, *Error) {
	if msg == nil || msg.Content() == nil {
		return false, p.WrapError(fmt.Errorf("received nil msg: %v", msg))
	}
	if msg.GetFrom() == nil {
		return false, p.WrapError(fmt.Errorf("received msg with nil sender: %s", msg))
	}
	if !msg.GetFrom().ValidateBasic() {
		return false, p.WrapError(fmt.Errorf("received msg with an invalid sender: %+v", msg.GetFrom()))
	}
	if !msg.ValidateBasic() {
		return false, p.WrapError(fmt.Errorf("message failed ValidateBasic: %s", msg), msg.GetFrom())
	}
	return true, nil
}

func (p *BaseParty) String() string {
	return fmt.Sprintf("round: %d", p.round().RoundNumber())
}

// -----
// Private lifecycle methods

func (p *BaseParty) setRound(round Round) *Error {
	if p.rnd != nil {
		return p.WrapError(errors.New("a round is already set on this party"))
	}
	p.rnd = round
	return nil
}

func (p *BaseParty) round() Round {
	return p.rnd
}

func (p *BaseParty) advance() {
	p.rnd = p.rnd.NextRound()
}

func (p *BaseParty) lock() {
	p.mtx.Lock()
}

func (p *BaseParty) unlock() {
	p.mtx.Unlock()
}

func (p *BaseParty) log() *zap.SugaredLogger {
	if p.Log != nil {
		return p.Log
	}
	return zap.NewNop().Sugar()
}

// ----- //

// BaseStart starts the party's first round under lock, running an optional
// prepare hook (e.g. to seed round-specific state) before Round.Start.
func BaseStart(p Party, task string, prepare ...func(Round) *Error) *Error {
	p.lock()
	defer p.unlock()
	if p.round() != nil {
		return p.WrapError(errors.New("could not start. this party is in an unexpected state. use the constructor and Start()"))
	}
	round := p.FirstRound()
	if err := p.setRound(round); err != nil {
		return err
	}
	if len(prepare) > 1 {
		return p.WrapError(errors.New("too many prepare functions given to Start(); 1 allowed"))
	}
	if len(prepare) == 1 {
		if err := prepare[0](round); err != nil {
			return err
		}
	}
	return p.round().Start()
}

// BaseUpdate advances a party's round state with a newly-received message,
// re-entering itself once a round fully completes so the next round's
// Start() runs before returning.
func BaseUpdate(p Party, msg ParsedMessage, task string) (ok bool, err *Error) {
	// fast-fail on an invalid message; do not lock the mutex yet
	if _, err := p.ValidateMessage(msg); err != nil {
		return false, err
	}
	// lock the mutex. need this mtx unlock hook; recursive re-entry below cannot use defer
	r := func(ok bool, err *Error) (bool, *Error) {
		p.unlock()
		return ok, err
	}
	p.lock() // data is written to P state below
	if ok, err := p.StoreMessage(msg); err != nil || !ok {
		return r(false, err)
	}
	if p.round() != nil {
		if _, err := p.round().Update(); err != nil {
			return r(false, err)
		}
		if p.round().CanProceed() {
			if p.advance(); p.round() != nil {
				if err := p.round().Start(); err != nil {
					return r(false, err)
				}
				p.unlock() // recursive so can't defer after return
				return BaseUpdate(p, msg, task)
			}
			return r(true, nil)
		}
		return r(true, nil)
	}
	// finished! the round implementation will have sent the data through the `end` channel.
	return r(true, nil)
}
