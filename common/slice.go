// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

package common

// NonEmptyBytes returns true when bz is both present and non-zero length.
// Used to reject a relay envelope whose Payload is missing entirely, as
// opposed to one that fails to CBOR-decode (tss.unmarshalRelayPayload).
func NonEmptyBytes(bz []byte) bool {
	return bz != nil && len(bz) > 0
}
