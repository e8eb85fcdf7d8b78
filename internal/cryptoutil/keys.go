// Package cryptoutil generates and (de)serializes the RSA key pairs used
// to sign and verify federated HTTP requests (draft-cavage HTTP
// Signatures, via go-fed/httpsig).
package cryptoutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// minKeySize mirrors the teacher's floor on generated RSA key size.
const minKeySize = 2048

// KeyPair is an internal account's signing identity.
type KeyPair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// Generate creates a fresh RSA key pair for a newly-provisioned
// internal account.
func Generate() (*KeyPair, error) {
	k, err := rsa.GenerateKey(rand.Reader, minKeySize)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: generate RSA key: %w", err)
	}
	return &KeyPair{Private: k, Public: &k.PublicKey}, nil
}

// EncodePrivatePEM serializes the private key as a PKCS#8 PEM block,
// the form stored in the account's ap_private_key column.
func EncodePrivatePEM(k *rsa.PrivateKey) (string, error) {
	b, err := x509.MarshalPKCS8PrivateKey(k)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: marshal private key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: b})), nil
}

// EncodePublicPEM serializes the public key as a PKIX PEM block, the
// form embedded in the actor document's publicKeyPem field.
func EncodePublicPEM(p *rsa.PublicKey) (string, error) {
	b, err := x509.MarshalPKIXPublicKey(p)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: b})), nil
}

// DecodePrivatePEM parses a PKCS#8 (or PKCS#1, for keys generated by
// older tooling) private key PEM block.
func DecodePrivatePEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("cryptoutil: no PEM block found in private key")
	}
	if k, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("cryptoutil: private key is not RSA")
		}
		return rsaKey, nil
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

// DecodePublicPEM parses a PKIX public key PEM block, as fetched from
// a remote actor's publicKeyPem field.
func DecodePublicPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("cryptoutil: no PEM block found in public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("cryptoutil: public key is not RSA")
	}
	return rsaPub, nil
}
