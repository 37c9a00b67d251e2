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

// Package xcodec implements the rolling-fingerprint deduplicating codec
// (XCodec) at the heart of xcproxy.
//
// A stream is split into overlapping 128-byte windows. A rolling hash
// fingerprints the trailing window on every byte. The first time a
// fingerprint is seen the bytes pass through as literals; any later
// occurrence of the same 128 bytes is replaced by a short reference
// (BACKREF or HASHREF) instead of being retransmitted. Encoder and
// decoder keep independent, symmetric dictionaries and exchange DECLARE/
// ASK control tokens to keep them in sync.
package xcodec
