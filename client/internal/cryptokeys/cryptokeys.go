// Package cryptokeys implements optional end-to-end media encryption
// (spec.md §4.7): each sender generates an AES-128-GCM key, exchanges
// RSA-OAEP public keys with every peer via control packets, and wraps its
// AES key under each peer's public key. Media payloads are sealed with a
// 96-bit nonce derived from the sender's SSRC and sequence number plus an
// 8-byte salt handed out at key-exchange time. The router only ever
// forwards the resulting ciphertext; it never holds a key.
//
// RSA-OAEP and AES-GCM are raw stdlib primitives with no ecosystem wrapper
// in the example pack worth adopting over crypto/rsa and crypto/aes
// directly (documented in the project's grounding notes).
package cryptokeys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	aesKeyBytes = 16 // AES-128
	saltBytes   = 8
	nonceBytes  = 12
	rsaKeyBits  = 2048
)

var (
	ErrNoPeerKey     = errors.New("cryptokeys: no RSA public key known for peer")
	ErrKeyNotWrapped = errors.New("cryptokeys: AES key not yet unwrapped for peer")
)

// Identity holds one local participant's E2EE key material: an RSA keypair
// for wrapping/unwrapping AES keys, and the local AES-128-GCM key this
// participant uses to seal its own outgoing media.
type Identity struct {
	rsaPriv *rsa.PrivateKey
	aesKey  [aesKeyBytes]byte
	salt    [saltBytes]byte

	peers map[string]*peerState
}

type peerState struct {
	rsaPub   *rsa.PublicKey
	aesKey   []byte // this peer's AES key, unwrapped from their AesPacket
	salt     []byte
	gcm      cipher.AEAD
}

// New generates a fresh RSA-2048 keypair and AES-128 key/salt for one local
// participant.
func New() (*Identity, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("cryptokeys: generate rsa key: %w", err)
	}
	id := &Identity{rsaPriv: priv, peers: make(map[string]*peerState)}
	if _, err := rand.Read(id.aesKey[:]); err != nil {
		return nil, fmt.Errorf("cryptokeys: generate aes key: %w", err)
	}
	if _, err := rand.Read(id.salt[:]); err != nil {
		return nil, fmt.Errorf("cryptokeys: generate salt: %w", err)
	}
	return id, nil
}

// PublicKeyDER returns this identity's RSA public key in PKIX/DER form,
// ready to embed in an RsaPacket.
func (id *Identity) PublicKeyDER() ([]byte, error) {
	return x509.MarshalPKIXPublicKey(&id.rsaPriv.PublicKey)
}

// LocalAESKeyAndSalt returns this identity's AES-128 key and salt, for
// wrapping and sending to each peer once their RSA public key is known.
func (id *Identity) LocalAESKeyAndSalt() (key [16]byte, salt [8]byte) {
	return id.aesKey, id.salt
}

// ObservePeerPublicKey records a peer's RSA public key from an inbound
// RsaPacket.
func (id *Identity) ObservePeerPublicKey(peerEmail string, der []byte) error {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return fmt.Errorf("cryptokeys: parse peer public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("cryptokeys: peer public key is not RSA")
	}
	ps := id.peers[peerEmail]
	if ps == nil {
		ps = &peerState{}
		id.peers[peerEmail] = ps
	}
	ps.rsaPub = rsaPub
	return nil
}

// WrapAESKeyFor encrypts this identity's AES key and salt under peer's
// known RSA public key, producing the payload carried in an AesPacket's
// WrappedKey field. ObservePeerPublicKey must be called first.
func (id *Identity) WrapAESKeyFor(peerEmail string) ([]byte, error) {
	ps := id.peers[peerEmail]
	if ps == nil || ps.rsaPub == nil {
		return nil, ErrNoPeerKey
	}
	plain := make([]byte, 0, aesKeyBytes+saltBytes)
	plain = append(plain, id.aesKey[:]...)
	plain = append(plain, id.salt[:]...)
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, ps.rsaPub, plain, nil)
}

// ObservePeerWrappedKey decrypts an inbound AesPacket's WrappedKey using
// this identity's RSA private key and records the peer's AES key/salt for
// subsequent Unseal calls.
func (id *Identity) ObservePeerWrappedKey(peerEmail string, wrapped []byte) error {
	plain, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, id.rsaPriv, wrapped, nil)
	if err != nil {
		return fmt.Errorf("cryptokeys: unwrap peer aes key: %w", err)
	}
	if len(plain) != aesKeyBytes+saltBytes {
		return fmt.Errorf("cryptokeys: unwrapped key has unexpected length %d", len(plain))
	}
	block, err := aes.NewCipher(plain[:aesKeyBytes])
	if err != nil {
		return fmt.Errorf("cryptokeys: build aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceBytes)
	if err != nil {
		return fmt.Errorf("cryptokeys: build gcm: %w", err)
	}
	ps := id.peers[peerEmail]
	if ps == nil {
		ps = &peerState{}
		id.peers[peerEmail] = ps
	}
	ps.aesKey = append([]byte(nil), plain[:aesKeyBytes]...)
	ps.salt = append([]byte(nil), plain[aesKeyBytes:]...)
	ps.gcm = gcm
	return nil
}

// nonceFor derives the 96-bit GCM nonce from an 8-byte salt and a 4-byte
// (ssrc, sequence) word: the salt occupies the first 8 bytes, and the
// sequence number is XORed into the low 16 bits of the ssrc word, so for a
// given ssrc each sequence number maps to a distinct 12-byte nonce. Pairs
// with different ssrcs can share a nonce (e.g. ssrc 1/seq 0 and ssrc 0/seq 1).
func nonceFor(ssrc uint32, sequence uint16, salt []byte) []byte {
	n := make([]byte, nonceBytes)
	copy(n, salt)
	word := ssrc ^ uint32(sequence)
	binary.BigEndian.PutUint32(n[saltBytes:], word)
	return n
}

// Seal encrypts one media payload under this identity's own AES-128-GCM
// key, for the local participant's outgoing MediaPacket.Data.
func (id *Identity) Seal(ssrc uint32, sequence uint16, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(id.aesKey[:])
	if err != nil {
		return nil, fmt.Errorf("cryptokeys: build aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceBytes)
	if err != nil {
		return nil, fmt.Errorf("cryptokeys: build gcm: %w", err)
	}
	nonce := nonceFor(ssrc, sequence, id.salt[:])
	return gcm.Seal(nil, nonce, plaintext, nil), nil
}

// Unseal decrypts one inbound media payload using peerEmail's previously
// unwrapped AES key.
func (id *Identity) Unseal(peerEmail string, ssrc uint32, sequence uint16, ciphertext []byte) ([]byte, error) {
	ps := id.peers[peerEmail]
	if ps == nil || ps.gcm == nil {
		return nil, ErrKeyNotWrapped
	}
	nonce := nonceFor(ssrc, sequence, ps.salt)
	return ps.gcm.Open(nil, nonce, ciphertext, nil)
}

// HasPeerKey reports whether peerEmail's AES key has been unwrapped yet.
func (id *Identity) HasPeerKey(peerEmail string) bool {
	ps := id.peers[peerEmail]
	return ps != nil && ps.gcm != nil
}
