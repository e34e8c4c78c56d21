package models

// KeyKind names the custody strategy behind a key provider.
type KeyKind string

// Key custody strategies.
const (
	KeyKindHardwareVault KeyKind = "hardware_vault"
	KeyKindMnemonic      KeyKind = "mnemonic"
	KeyKindRawKey        KeyKind = "raw_key"
)

// KeyMaterial is a closed set of key sources. The only implementations are
// HardwareVaultRef, MnemonicSeed and RawPrivateKey.
type KeyMaterial interface {
	Kind() KeyKind
	keyMaterial()
}

// HardwareVaultRef points at a key held by a secure key store.
type HardwareVaultRef struct {
	Alias string
}

// MnemonicSeed is a BIP-39 phrase plus the path of the signing key.
type MnemonicSeed struct {
	Phrase         string
	Passphrase     string
	DerivationPath string
}

// RawPrivateKey is an imported 32-byte private scalar.
type RawPrivateKey struct {
	Bytes []byte
}

func (HardwareVaultRef) Kind() KeyKind { return KeyKindHardwareVault }
func (MnemonicSeed) Kind() KeyKind     { return KeyKindMnemonic }
func (RawPrivateKey) Kind() KeyKind    { return KeyKindRawKey }

func (HardwareVaultRef) keyMaterial() {}
func (MnemonicSeed) keyMaterial()     {}
func (RawPrivateKey) keyMaterial()    {}

// String keeps secrets out of logs.
func (MnemonicSeed) String() string { return "MnemonicSeed{redacted}" }

// String keeps secrets out of logs.
func (RawPrivateKey) String() string { return "RawPrivateKey{redacted}" }
