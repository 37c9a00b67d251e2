// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package xcodec

import "github.com/pkg/errors"

func newError(format string, args ...any) error {
	format = "xcodec: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrProtocol is returned on a malformed token stream, e.g. a
	// truncated DECLARE or an unknown discriminator after ESCAPE. Fatal
	// to the connection.
	ErrProtocol = newError("malformed token stream")

	// ErrFingerprintCollision is returned when a DECLARE arrives for an
	// fp already bound to a different chunk. Fatal: the peer is
	// misbehaving or the rolling hash has failed.
	ErrFingerprintCollision = newError("fingerprint collision")

	// ErrUnresolvedReference is returned at flush time for any segment
	// still blocked on an fp the decoder never resolved.
	ErrUnresolvedReference = newError("unresolved reference at close")

	// ErrClosed is returned by operations attempted after Close.
	ErrClosed = newError("closed")
)

// protocolErrorf wraps ErrProtocol with the offending detail.
func protocolErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}
