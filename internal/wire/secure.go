package wire

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrUnsealed   = errors.New("wire: unsealed frame after handshake")
	ErrAuthFailed = errors.New("wire: frame authentication failed")
)

// SecureConn carries sealed envelopes after the handshake. Each direction
// numbers its frames; the number is the AEAD nonce, so a reordered, replayed
// or dropped frame fails authentication and the connection must be dropped.
// Send is safe for concurrent use; Recv must be called from one goroutine.
type SecureConn struct {
	conn net.Conn
	fc   *FrameConn

	sendMu  sync.Mutex
	sendSeq uint64
	seal    cipher.AEAD

	recvSeq uint64
	open    cipher.AEAD

	sessionID uint64
	authKeyID uint64
}

func newSecureConn(conn net.Conn, fc *FrameConn, sendKey, recvKey []byte, sessionID, authKeyID uint64) (*SecureConn, error) {
	seal, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, fmt.Errorf("wire: send cipher: %w", err)
	}
	open, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, fmt.Errorf("wire: recv cipher: %w", err)
	}
	return &SecureConn{
		conn:      conn,
		fc:        fc,
		seal:      seal,
		open:      open,
		sessionID: sessionID,
		authKeyID: authKeyID,
	}, nil
}

func frameNonce(seq uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], seq)
	return nonce
}

func (s *SecureConn) SessionID() uint64 { return s.sessionID }

// AuthKeyID identifies the negotiated key; both peers compute the same value.
func (s *SecureConn) AuthKeyID() uint64 { return s.authKeyID }

func (s *SecureConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *SecureConn) Close() error { return s.conn.Close() }

// Send encodes, optionally compresses, seals and writes env.
func (s *SecureConn) Send(env *Envelope) error {
	payload, err := Marshal(env)
	if err != nil {
		return fmt.Errorf("wire: encode envelope: %w", err)
	}

	flags := FlagSealed
	if packed, ok := compress(payload); ok {
		payload = packed
		flags |= FlagCompressed
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sealed := s.seal.Seal(nil, frameNonce(s.sendSeq), payload, []byte{flags})
	s.sendSeq++
	return s.fc.WriteFrame(flags, sealed)
}

// Recv reads, opens and decodes the next envelope.
func (s *SecureConn) Recv() (*Envelope, error) {
	flags, payload, err := s.fc.ReadFrame()
	if err != nil {
		return nil, err
	}
	if flags&FlagSealed == 0 {
		return nil, ErrUnsealed
	}

	plain, err := s.open.Open(nil, frameNonce(s.recvSeq), payload, []byte{flags})
	if err != nil {
		return nil, ErrAuthFailed
	}
	s.recvSeq++

	if flags&FlagCompressed != 0 {
		if plain, err = decompress(plain); err != nil {
			return nil, err
		}
	}

	var env Envelope
	if err := Unmarshal(plain, &env); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return &env, nil
}
