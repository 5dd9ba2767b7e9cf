// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package common

import "go.uber.org/zap"

// Logger is used by the low-level hashing/math helpers in this package to
// report otherwise-unrecoverable errors (e.g. a hash.Hash write failure).
// It defaults to a no-op logger; callers that want these diagnostics wired
// into the process-wide log sink should call SetLogger during startup.
var Logger = zap.NewNop().Sugar()

// SetLogger replaces the package-level logger used by this package's helpers.
func SetLogger(l *zap.SugaredLogger) {
	if l != nil {
		Logger = l
	}
}
