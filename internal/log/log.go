// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package log builds the zap logger shared by the coordinator and signer
// processes: JSON by default, a human-readable console encoder when
// Options.Pretty is set.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console encoder instead of JSON
}

// New builds a *zap.SugaredLogger per Options. An unrecognized Level falls
// back to info rather than failing startup.
func New(opts Options) (*zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		_ = level.UnmarshalText([]byte(opts.Level)) // invalid level silently keeps info
	}

	cfg := zap.NewProductionConfig()
	if opts.Pretty {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}

// Nop returns a logger that discards everything, used as a safe default
// when a component is constructed without an explicit logger (matching the
// teacher's BaseParty.log() fallback).
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
