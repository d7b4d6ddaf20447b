// Package wire defines the client/server protocol: length-prefixed frames,
// an X25519 key agreement that yields per-direction session keys, sealed
// (ChaCha20-Poly1305) frames carrying CBOR envelopes, and the request and
// reply bodies of every method.
//
// Frame layout:
//
//	+----------------+-------+-----------------+
//	| length uint32  | flags | payload         |
//	+----------------+-------+-----------------+
//
// length counts flags and payload. Handshake frames have no flags set; every
// frame after the handshake is sealed, and payloads above 1 KiB are zstd
// compressed before sealing.
package wire
