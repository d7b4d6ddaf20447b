package wire

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	Version   = 1
	nonceSize = 16

	infoClientToServer = "tgwire c2s"
	infoServerToClient = "tgwire s2c"
)

var (
	ErrHandshake = errors.New("wire: handshake failed")
	ErrVersion   = errors.New("wire: unsupported protocol version")
)

// Hello opens the handshake.
type Hello struct {
	Version   int    `cbor:"v"`
	PublicKey []byte `cbor:"pk"`
	Nonce     []byte `cbor:"n"`
	APIID     int32  `cbor:"api_id,omitempty"`
}

// ServerHello answers Hello and assigns the session id.
type ServerHello struct {
	Version   int    `cbor:"v"`
	PublicKey []byte `cbor:"pk"`
	Nonce     []byte `cbor:"n"`
	SessionID uint64 `cbor:"sid"`
}

type keyPair struct {
	private []byte
	public  []byte
}

func newKeyPair() (keyPair, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return keyPair{}, fmt.Errorf("wire: generate key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return keyPair{}, fmt.Errorf("wire: derive public key: %w", err)
	}
	return keyPair{private: priv, public: pub}, nil
}

func randomNonce() ([]byte, error) {
	n := make([]byte, nonceSize)
	if _, err := rand.Read(n); err != nil {
		return nil, fmt.Errorf("wire: generate nonce: %w", err)
	}
	return n, nil
}

// sessionKeys are the per-direction keys and the auth key id derived from
// one key agreement.
type sessionKeys struct {
	clientToServer []byte
	serverToClient []byte
	authKeyID      uint64
}

func deriveKeys(shared, clientNonce, serverNonce []byte) (sessionKeys, error) {
	salt := make([]byte, 0, len(clientNonce)+len(serverNonce))
	salt = append(salt, clientNonce...)
	salt = append(salt, serverNonce...)

	expand := func(info string) ([]byte, error) {
		key := make([]byte, chacha20poly1305.KeySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(info)), key); err != nil {
			return nil, fmt.Errorf("wire: derive %s key: %w", info, err)
		}
		return key, nil
	}

	c2s, err := expand(infoClientToServer)
	if err != nil {
		return sessionKeys{}, err
	}
	s2c, err := expand(infoServerToClient)
	if err != nil {
		return sessionKeys{}, err
	}

	sum := sha256.Sum256(shared)
	return sessionKeys{
		clientToServer: c2s,
		serverToClient: s2c,
		authKeyID:      binary.BigEndian.Uint64(sum[:8]),
	}, nil
}

// withDeadline applies ctx's deadline to conn for the duration of the handshake.
func withDeadline(ctx context.Context, conn net.Conn) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		return func() { _ = conn.SetDeadline(time.Time{}) }
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	return func() { stop() }
}

func readHandshake(fc *FrameConn, v any) error {
	flags, payload, err := fc.ReadFrame()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	if flags != 0 {
		return fmt.Errorf("%w: unexpected flags %#x", ErrHandshake, flags)
	}
	if err := Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: decode: %w", ErrHandshake, err)
	}
	return nil
}

func writeHandshake(fc *FrameConn, v any) error {
	payload, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrHandshake, err)
	}
	if err := fc.WriteFrame(0, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrHandshake, err)
	}
	return nil
}

// ClientHandshake negotiates session keys over conn (normally a TLS connection).
func ClientHandshake(ctx context.Context, conn net.Conn, apiID int32) (*SecureConn, error) {
	defer withDeadline(ctx, conn)()

	kp, err := newKeyPair()
	if err != nil {
		return nil, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}

	fc := NewFrameConn(conn)
	if err := writeHandshake(fc, Hello{Version: Version, PublicKey: kp.public, Nonce: nonce, APIID: apiID}); err != nil {
		return nil, err
	}

	var sh ServerHello
	if err := readHandshake(fc, &sh); err != nil {
		return nil, err
	}
	if sh.Version != Version {
		return nil, fmt.Errorf("%w: server speaks %d", ErrVersion, sh.Version)
	}
	if len(sh.Nonce) != nonceSize {
		return nil, fmt.Errorf("%w: bad server nonce", ErrHandshake)
	}

	shared, err := curve25519.X25519(kp.private, sh.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key agreement: %w", ErrHandshake, err)
	}
	keys, err := deriveKeys(shared, nonce, sh.Nonce)
	if err != nil {
		return nil, err
	}

	return newSecureConn(conn, fc, keys.clientToServer, keys.serverToClient, sh.SessionID, keys.authKeyID)
}

// ServerHandshake answers a client's Hello and returns the sealed connection
// together with the Hello it received.
func ServerHandshake(ctx context.Context, conn net.Conn, sessionID uint64) (*SecureConn, Hello, error) {
	defer withDeadline(ctx, conn)()

	fc := NewFrameConn(conn)

	var hello Hello
	if err := readHandshake(fc, &hello); err != nil {
		return nil, Hello{}, err
	}
	if hello.Version != Version {
		return nil, hello, fmt.Errorf("%w: client speaks %d", ErrVersion, hello.Version)
	}
	if len(hello.Nonce) != nonceSize {
		return nil, hello, fmt.Errorf("%w: bad client nonce", ErrHandshake)
	}

	kp, err := newKeyPair()
	if err != nil {
		return nil, hello, err
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, hello, err
	}

	shared, err := curve25519.X25519(kp.private, hello.PublicKey)
	if err != nil {
		return nil, hello, fmt.Errorf("%w: key agreement: %w", ErrHandshake, err)
	}
	keys, err := deriveKeys(shared, hello.Nonce, nonce)
	if err != nil {
		return nil, hello, err
	}

	if err := writeHandshake(fc, ServerHello{Version: Version, PublicKey: kp.public, Nonce: nonce, SessionID: sessionID}); err != nil {
		return nil, hello, err
	}

	sc, err := newSecureConn(conn, fc, keys.serverToClient, keys.clientToServer, sessionID, keys.authKeyID)
	return sc, hello, err
}

// SelfTest checks that the key agreement and AEAD primitives work in this
// process without touching the network.
func SelfTest() error {
	a, err := newKeyPair()
	if err != nil {
		return err
	}
	b, err := newKeyPair()
	if err != nil {
		return err
	}
	ab, err := curve25519.X25519(a.private, b.public)
	if err != nil {
		return fmt.Errorf("wire: self test: %w", err)
	}
	keys, err := deriveKeys(ab, make([]byte, nonceSize), make([]byte, nonceSize))
	if err != nil {
		return err
	}
	aead, err := chacha20poly1305.New(keys.clientToServer)
	if err != nil {
		return fmt.Errorf("wire: self test: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := aead.Open(nil, nonce, aead.Seal(nil, nonce, []byte("ping"), nil), nil); err != nil {
		return fmt.Errorf("wire: self test: %w", err)
	}
	return nil
}
