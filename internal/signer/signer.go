package signer

// Signer produces the OpenPGP signatures apt expects next to a
// repository index: an inline cleartext signature for InRelease and a
// detached one for Release.gpg.
type Signer interface {
	SignCleartext(data []byte) ([]byte, error)
	SignDetached(data []byte) ([]byte, error)

	// PublicKey returns the armored public key so it can be published
	// alongside the index.
	PublicKey() ([]byte, error)
}
