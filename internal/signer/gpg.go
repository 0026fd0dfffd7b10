package signer

import (
	"bytes"
	"crypto"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

// GPGSigner signs repository indexes with an OpenPGP private key read
// from disk. Both armored and binary key files are accepted.
type GPGSigner struct {
	entity *openpgp.Entity
}

var signingConfig = &packet.Config{DefaultHash: crypto.SHA512}

// NewGPGSigner loads the private key at keyPath, decrypting it and its
// subkeys with passphrase when they are protected.
func NewGPGSigner(keyPath, passphrase string) (*GPGSigner, error) {
	if keyPath == "" {
		return nil, fmt.Errorf("no signing key path given")
	}
	entity, err := readSigningKey(keyPath)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		if err := decryptKeys(entity, []byte(passphrase)); err != nil {
			return nil, err
		}
	}
	return &GPGSigner{entity: entity}, nil
}

func readSigningKey(keyPath string) (*openpgp.Entity, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open signing key: %w", err)
	}
	defer f.Close()

	entities, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		if _, err := f.Seek(0, 0); err != nil {
			return nil, err
		}
		entities, err = openpgp.ReadKeyRing(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key %s: %w", keyPath, err)
		}
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("no keys found in %s", keyPath)
	}
	return entities[0], nil
}

func decryptKeys(entity *openpgp.Entity, passphrase []byte) error {
	if entity.PrivateKey != nil && entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt(passphrase); err != nil {
			return fmt.Errorf("failed to decrypt private key: %w", err)
		}
	}
	for _, subkey := range entity.Subkeys {
		if subkey.PrivateKey != nil && subkey.PrivateKey.Encrypted {
			if err := subkey.PrivateKey.Decrypt(passphrase); err != nil {
				return fmt.Errorf("failed to decrypt subkey: %w", err)
			}
		}
	}
	return nil
}

// SignCleartext wraps data in the cleartext signature framing used by
// InRelease files.
func (s *GPGSigner) SignCleartext(data []byte) ([]byte, error) {
	var signature bytes.Buffer
	if err := openpgp.ArmoredDetachSignText(&signature, s.entity, bytes.NewReader(data), signingConfig); err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("-----BEGIN PGP SIGNED MESSAGE-----\n")
	buf.WriteString("Hash: SHA512\n\n")
	buf.Write(data)
	if !bytes.HasSuffix(data, []byte("\n")) {
		buf.WriteString("\n")
	}
	buf.Write(signature.Bytes())
	return buf.Bytes(), nil
}

// SignDetached creates the armored detached signature written to
// Release.gpg.
func (s *GPGSigner) SignDetached(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(data), signingConfig); err != nil {
		return nil, fmt.Errorf("failed to create detached signature: %w", err)
	}
	return buf.Bytes(), nil
}

// PublicKey serializes the armored public key.
func (s *GPGSigner) PublicKey() ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, err
	}
	if err := s.entity.Serialize(w); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
