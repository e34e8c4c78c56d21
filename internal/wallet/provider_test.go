package wallet

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/OKaluzny/wallet-custody/internal/vault"
	"github.com/OKaluzny/wallet-custody/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testScalar() []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func newRawProvider(t *testing.T) *RawKeyProvider {
	t.Helper()
	p, err := NewRawKeyProvider(models.RawPrivateKey{Bytes: testScalar()}, models.FullWeight)
	require.NoError(t, err)
	return p
}

func newMnemonicProvider(t *testing.T) *MnemonicProvider {
	t.Helper()
	p, err := NewMnemonicProvider(models.MnemonicSeed{Phrase: testMnemonic}, models.FullWeight)
	require.NoError(t, err)
	return p
}

func newHardwareProvider(t *testing.T) *HardwareVaultProvider {
	t.Helper()
	v := vault.NewSoftwareVault()
	alias := vault.Alias("test")
	_, err := v.Generate(context.Background(), alias)
	require.NoError(t, err)
	return NewHardwareVaultProvider(v, models.HardwareVaultRef{Alias: alias}, 500)
}

func assertVerifies(t *testing.T, p KeyProvider, signAlgo models.SignAlgo, hashAlgo models.HashAlgo) {
	t.Helper()
	ctx := context.Background()
	data := []byte("transfer 10 FLOW to 0x01")

	sig, err := p.Sign(ctx, data, signAlgo, hashAlgo)
	require.NoError(t, err)
	require.Len(t, sig, RawSignatureSize)

	pub, err := p.PublicKey(ctx, signAlgo)
	require.NoError(t, err)
	require.Len(t, pub, PublicKeySize)

	digest, err := Digest(hashAlgo, data)
	require.NoError(t, err)
	var raw [RawSignatureSize]byte
	copy(raw[:], sig)
	assert.True(t, VerifyRaw(signAlgo, pub, digest, raw), "%s %s/%s signature does not verify", p.KeyKind(), signAlgo, hashAlgo)
}

func TestProviders_SameSignatureFormat(t *testing.T) {
	hashes := []models.HashAlgo{models.HashSHA2_256, models.HashSHA3_256}
	curves := []models.SignAlgo{models.SignAlgoP256, models.SignAlgoSecp256k1}

	for _, p := range []KeyProvider{newRawProvider(t), newMnemonicProvider(t)} {
		for _, c := range curves {
			for _, h := range hashes {
				assertVerifies(t, p, c, h)
			}
		}
	}
	assertVerifies(t, newHardwareProvider(t), models.SignAlgoP256, models.HashSHA2_256)
}

func TestRawKeyProvider_TakesOwnership(t *testing.T) {
	src := testScalar()
	p, err := NewRawKeyProvider(models.RawPrivateKey{Bytes: src}, 1000)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 32), src, "caller's copy must be zeroed")

	_, err = p.Sign(context.Background(), []byte("x"), models.SignAlgoP256, models.HashSHA3_256)
	assert.NoError(t, err)
}

func TestRawKeyProvider_InvalidLength(t *testing.T) {
	_, err := NewRawKeyProvider(models.RawPrivateKey{Bytes: []byte{1, 2, 3}}, 1000)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
}

func TestProviders_Release(t *testing.T) {
	ctx := context.Background()
	providers := []KeyProvider{newRawProvider(t), newMnemonicProvider(t), newHardwareProvider(t)}
	for _, p := range providers {
		t.Run(string(p.KeyKind()), func(t *testing.T) {
			_, err := p.Sign(ctx, []byte("x"), models.SignAlgoP256, models.HashSHA2_256)
			require.NoError(t, err)

			p.Release()

			_, err = p.Sign(ctx, []byte("x"), models.SignAlgoP256, models.HashSHA2_256)
			assert.ErrorIs(t, err, ErrNoKeyMaterial)
			var se *SigningError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, p.KeyKind(), se.Kind)

			_, err = p.PublicKey(ctx, models.SignAlgoP256)
			assert.ErrorIs(t, err, ErrNoKeyMaterial)
		})
	}
}

func TestProviders_UnsupportedAlgorithm(t *testing.T) {
	ctx := context.Background()

	_, err := newRawProvider(t).Sign(ctx, []byte("x"), models.SignAlgo("ECDSA_P384"), models.HashSHA2_256)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = newMnemonicProvider(t).Sign(ctx, []byte("x"), models.SignAlgoP256, models.HashAlgo("SHA3_384"))
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	hw := newHardwareProvider(t)
	_, err = hw.Sign(ctx, []byte("x"), models.SignAlgoSecp256k1, models.HashSHA2_256)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	// The default software vault only offers SHA2_256.
	_, err = hw.Sign(ctx, []byte("x"), models.SignAlgoP256, models.HashSHA3_256)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	assert.ErrorIs(t, err, vault.ErrUnsupportedHash)
}

func TestHardwareVaultProvider_MissingAlias(t *testing.T) {
	p := NewHardwareVaultProvider(vault.NewSoftwareVault(), models.HardwareVaultRef{Alias: "user_keystore_gone"}, 1000)
	_, err := p.Sign(context.Background(), []byte("x"), models.SignAlgoP256, models.HashSHA2_256)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
	assert.ErrorIs(t, err, vault.ErrAliasNotFound)
}

func TestHardwareVaultProvider_VaultUnavailable(t *testing.T) {
	p := NewHardwareVaultProvider(vault.Unavailable{}, models.HardwareVaultRef{Alias: "a"}, 1000)
	_, err := p.Sign(context.Background(), []byte("x"), models.SignAlgoP256, models.HashSHA2_256)
	assert.ErrorIs(t, err, vault.ErrUnavailable)
}

func TestMnemonicProvider_Deterministic(t *testing.T) {
	ctx := context.Background()
	a := newMnemonicProvider(t)
	b := newMnemonicProvider(t)

	for _, algo := range []models.SignAlgo{models.SignAlgoP256, models.SignAlgoSecp256k1} {
		pa, err := a.PublicKey(ctx, algo)
		require.NoError(t, err)
		pb, err := b.PublicKey(ctx, algo)
		require.NoError(t, err)
		assert.Equal(t, pa, pb, algo)
	}

	k1, err := a.PublicKey(ctx, models.SignAlgoSecp256k1)
	require.NoError(t, err)
	p256, err := a.PublicKey(ctx, models.SignAlgoP256)
	require.NoError(t, err)
	assert.NotEqual(t, k1, p256)
}

func TestMnemonicProvider_PathAndPassphrase(t *testing.T) {
	ctx := context.Background()
	base, err := newMnemonicProvider(t).PublicKey(ctx, models.SignAlgoP256)
	require.NoError(t, err)

	explicit, err := NewMnemonicProvider(models.MnemonicSeed{Phrase: testMnemonic, DerivationPath: models.DefaultDerivationPath}, 1000)
	require.NoError(t, err)
	pub, err := explicit.PublicKey(ctx, models.SignAlgoP256)
	require.NoError(t, err)
	assert.Equal(t, base, pub, "empty path means the default path")

	other, err := NewMnemonicProvider(models.MnemonicSeed{Phrase: testMnemonic, DerivationPath: "m/44'/539'/0'/0/1"}, 1000)
	require.NoError(t, err)
	pub, err = other.PublicKey(ctx, models.SignAlgoP256)
	require.NoError(t, err)
	assert.NotEqual(t, base, pub)

	salted, err := NewMnemonicProvider(models.MnemonicSeed{Phrase: testMnemonic, Passphrase: "pw"}, 1000)
	require.NoError(t, err)
	pub, err = salted.PublicKey(ctx, models.SignAlgoP256)
	require.NoError(t, err)
	assert.NotEqual(t, base, pub)
}

func TestMnemonicProvider_Invalid(t *testing.T) {
	_, err := NewMnemonicProvider(models.MnemonicSeed{Phrase: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon"}, 1000)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)

	_, err = NewMnemonicProvider(models.MnemonicSeed{Phrase: testMnemonic, DerivationPath: "44/539"}, 1000)
	assert.Error(t, err)

	empty, err := NewMnemonicProvider(models.MnemonicSeed{}, 1000)
	require.NoError(t, err)
	_, err = empty.Sign(context.Background(), []byte("x"), models.SignAlgoP256, models.HashSHA2_256)
	assert.ErrorIs(t, err, ErrNoKeyMaterial)
}

func TestSignTransaction_DomainTag(t *testing.T) {
	ctx := context.Background()
	p := newRawProvider(t)
	payload := []byte("payload")

	sig, err := SignTransaction(ctx, p, payload, models.SignAlgoP256, models.HashSHA3_256)
	require.NoError(t, err)
	pub, err := p.PublicKey(ctx, models.SignAlgoP256)
	require.NoError(t, err)

	var raw [RawSignatureSize]byte
	copy(raw[:], sig)

	tagged, err := Digest(models.HashSHA3_256, append(TransactionDomainTag[:], payload...))
	require.NoError(t, err)
	assert.True(t, VerifyRaw(models.SignAlgoP256, pub, tagged, raw))

	untagged, err := Digest(models.HashSHA3_256, payload)
	require.NoError(t, err)
	assert.False(t, VerifyRaw(models.SignAlgoP256, pub, untagged, raw))

	userTagged, err := Digest(models.HashSHA3_256, append(UserDomainTag[:], payload...))
	require.NoError(t, err)
	assert.False(t, VerifyRaw(models.SignAlgoP256, pub, userTagged, raw), "transaction signature must not verify as a user message")
}

func TestDomainTags(t *testing.T) {
	assert.True(t, bytes.HasPrefix(TransactionDomainTag[:], []byte("FLOW-V0.0-transaction")))
	assert.Equal(t, byte(0), TransactionDomainTag[31])
	assert.True(t, bytes.HasPrefix(UserDomainTag[:], []byte("FLOW-V0.0-user")))
}

func TestParsePath(t *testing.T) {
	got, err := ParsePath("m/44'/539'/0'/0/0")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x8000002c, 0x8000021b, 0x80000000, 0, 0}, got)

	got, err = ParsePath("m/44h/1")
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x8000002c, 1}, got)

	for _, bad := range []string{"", "44'/0", "m/x", "m/2147483648"} {
		_, err := ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestMatchAccountKeys(t *testing.T) {
	ctx := context.Background()
	p := newRawProvider(t)
	p256, err := p.PublicKey(ctx, models.SignAlgoP256)
	require.NoError(t, err)
	k1, err := p.PublicKey(ctx, models.SignAlgoSecp256k1)
	require.NoError(t, err)

	acct, err := models.NewAccount("0x01", []models.AccountKey{
		{Index: 3, PublicKey: p256, Weight: 1000, SignAlgo: models.SignAlgoP256, HashAlgo: models.HashSHA3_256},
		{Index: 0, PublicKey: k1, Weight: 500, SignAlgo: models.SignAlgoSecp256k1, HashAlgo: models.HashSHA2_256},
		{Index: 1, PublicKey: p256, Weight: 1000, SignAlgo: models.SignAlgoP256, HashAlgo: models.HashSHA3_256, Revoked: true},
		{Index: 2, PublicKey: bytes.Repeat([]byte{1}, 64), Weight: 1000, SignAlgo: models.SignAlgoP256, HashAlgo: models.HashSHA3_256},
	})
	require.NoError(t, err)

	keys, err := MatchAccountKeys(ctx, p, acct)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 3}, LocalIndices(keys))

	// A P-256-only vault never matches secp256k1 keys.
	hw := newHardwareProvider(t)
	keys, err = MatchAccountKeys(ctx, hw, acct)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSigningError_Unwrap(t *testing.T) {
	err := signingErr(models.KeyKindRawKey, "sign", ErrNoKeyMaterial)
	assert.True(t, errors.Is(err, ErrNoKeyMaterial))
	assert.Contains(t, err.Error(), "raw_key sign")
}
