// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package tss

import (
	"errors"
	"fmt"
)

// Code classifies a protocol-level Error per the taxonomy in §7: these are
// surfaced to the requester and terminate the affected session only, as
// opposed to configuration errors (fatal at startup) or transport errors
// (locally retried within the session).
type Code string

const (
	CodeInvalidParticipants Code = "InvalidParticipants"
	CodeInvalidCryptoType   Code = "InvalidCryptoType"
	CodeInvalidRequest      Code = "InvalidRequest"
	CodeInvalidResponse     Code = "InvalidResponse"
	CodeInvalidSessionId    Code = "InvalidSessionId"
	CodeBaseInfoNotMatch    Code = "BaseInfoNotMatch"
	CodeCrypto              Code = "Crypto"
)

var (
	ErrInvalidCryptoType = errors.New("invalid crypto type")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidSessionId  = errors.New("invalid session id")
	ErrBaseInfoNotMatch  = errors.New("base info does not match")
)

// Error wraps a protocol failure with the session task, round, and the
// participant(s) implicated, following the teacher's *Error / WrapError
// pattern (generalized here from one committee to the session/participant
// model used by DKG and signing sessions alike).
type Error struct {
	cause    error
	code     Code
	task     string
	round    int
	victim   *Participant
	culprits []*Participant
}

func NewError(err error, code Code, task string, round int, victim *Participant, culprits ...*Participant) *Error {
	return &Error{cause: err, code: code, task: task, round: round, victim: victim, culprits: culprits}
}

func (err *Error) Unwrap() error { return err.cause }

func (err *Error) Cause() error { return err.cause }

func (err *Error) Code() Code { return err.code }

func (err *Error) Task() string { return err.task }

func (err *Error) Round() int { return err.round }

func (err *Error) Victim() *Participant { return err.victim }

func (err *Error) Culprits() []*Participant { return err.culprits }

func (err *Error) Error() string {
	if err == nil || err.cause == nil {
		return "Error is nil"
	}
	if len(err.culprits) > 0 {
		return fmt.Sprintf("task %s, code %s, party %v, round %d, culprits %v: %s",
			err.task, err.code, err.victim, err.round, err.culprits, err.cause.Error())
	}
	return fmt.Sprintf("task %s, code %s, party %v, round %d: %s",
		err.task, err.code, err.victim, err.round, err.cause.Error())
}
