package cryptokeys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func exchange(t *testing.T, a, b *Identity, aEmail, bEmail string) {
	t.Helper()

	aPub, err := a.PublicKeyDER()
	require.NoError(t, err)
	bPub, err := b.PublicKeyDER()
	require.NoError(t, err)

	require.NoError(t, a.ObservePeerPublicKey(bEmail, bPub))
	require.NoError(t, b.ObservePeerPublicKey(aEmail, aPub))

	aWrapped, err := a.WrapAESKeyFor(bEmail)
	require.NoError(t, err)
	bWrapped, err := b.WrapAESKeyFor(aEmail)
	require.NoError(t, err)

	require.NoError(t, b.ObservePeerWrappedKey(aEmail, aWrapped))
	require.NoError(t, a.ObservePeerWrappedKey(bEmail, bWrapped))
}

func TestSealUnsealRoundTrip(t *testing.T) {
	alice, err := New()
	require.NoError(t, err)
	bob, err := New()
	require.NoError(t, err)

	exchange(t, alice, bob, "alice@example.com", "bob@example.com")

	require.True(t, bob.HasPeerKey("alice@example.com"))

	plaintext := []byte("opus frame payload")
	ciphertext, err := alice.Seal(42, 7, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := bob.Unseal("alice@example.com", 42, 7, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestUnsealFailsOnSequenceMismatch(t *testing.T) {
	alice, err := New()
	require.NoError(t, err)
	bob, err := New()
	require.NoError(t, err)
	exchange(t, alice, bob, "alice@example.com", "bob@example.com")

	ciphertext, err := alice.Seal(42, 7, []byte("frame"))
	require.NoError(t, err)

	_, err = bob.Unseal("alice@example.com", 42, 8, ciphertext)
	require.Error(t, err)
}

func TestWrapAESKeyForFailsWithoutPeerKey(t *testing.T) {
	alice, err := New()
	require.NoError(t, err)
	_, err = alice.WrapAESKeyFor("stranger@example.com")
	require.ErrorIs(t, err, ErrNoPeerKey)
}

func TestUnsealFailsWithoutExchange(t *testing.T) {
	alice, err := New()
	require.NoError(t, err)
	_, err = alice.Unseal("nobody@example.com", 1, 1, []byte("x"))
	require.ErrorIs(t, err, ErrKeyNotWrapped)
}
