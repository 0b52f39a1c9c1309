// Package jwt validates compact JWTs against a provider's signing keys:
// parsing, signature verification with an algorithm allow-list, and
// registered-claims checks.
package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"math/big"

	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

// algorithm binds a JWA signing algorithm name to its digest and
// verification scheme.
type algorithm struct {
	hash   crypto.Hash
	verify func(pub crypto.PublicKey, hash crypto.Hash, digest, sig []byte) error
}

// algorithms is the dispatch table for supported signing algorithms.
// "none" is deliberately absent.
var algorithms = map[string]algorithm{
	"RS256": {crypto.SHA256, verifyRSAPKCS1},
	"RS384": {crypto.SHA384, verifyRSAPKCS1},
	"RS512": {crypto.SHA512, verifyRSAPKCS1},
	"PS256": {crypto.SHA256, verifyRSAPSS},
	"PS384": {crypto.SHA384, verifyRSAPSS},
	"PS512": {crypto.SHA512, verifyRSAPSS},
	"ES256": {crypto.SHA256, verifyECDSA},
	"ES384": {crypto.SHA384, verifyECDSA},
	"ES512": {crypto.SHA512, verifyECDSA},
}

// Verify checks the signature over signingInput, which must be the
// header and payload segments exactly as transmitted. The algorithm
// must appear in allowedAlgs; "none" and unlisted algorithms are
// rejected unconditionally, regardless of the signature bytes, to
// block algorithm-substitution downgrades.
func Verify(signingInput, signature []byte, alg, publicKeyPEM string, allowedAlgs []string) error {
	if alg == "none" || !contains(allowedAlgs, alg) {
		return oidcerr.Newf(oidcerr.CodeJWTSignatureInvalid, "algorithm %q is not allowed", alg)
	}

	scheme, ok := algorithms[alg]
	if !ok {
		return oidcerr.Newf(oidcerr.CodeJWTSignatureInvalid, "algorithm %q is not supported", alg)
	}

	pub, err := parsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return err
	}

	h := scheme.hash.New()
	h.Write(signingInput)
	digest := h.Sum(nil)

	if err := scheme.verify(pub, scheme.hash, digest, signature); err != nil {
		return oidcerr.Wrap(oidcerr.CodeJWTSignatureInvalid, "signature verification failed", err)
	}

	return nil
}

func parsePublicKeyPEM(publicKeyPEM string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, oidcerr.New(oidcerr.CodeJWTSignatureInvalid, "public key is not valid PEM")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeJWTSignatureInvalid, "parsing public key", err)
	}

	return pub, nil
}

func verifyRSAPKCS1(pub crypto.PublicKey, hash crypto.Hash, digest, sig []byte) error {
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return oidcerr.New(oidcerr.CodeJWTSignatureInvalid, "algorithm requires an RSA key")
	}
	return rsa.VerifyPKCS1v15(key, hash, digest, sig)
}

func verifyRSAPSS(pub crypto.PublicKey, hash crypto.Hash, digest, sig []byte) error {
	key, ok := pub.(*rsa.PublicKey)
	if !ok {
		return oidcerr.New(oidcerr.CodeJWTSignatureInvalid, "algorithm requires an RSA key")
	}
	return rsa.VerifyPSS(key, hash, digest, sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
}

// verifyECDSA expects the JOSE signature format: the raw big-endian
// r and s values concatenated, each padded to the curve's byte size.
func verifyECDSA(pub crypto.PublicKey, _ crypto.Hash, digest, sig []byte) error {
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return oidcerr.New(oidcerr.CodeJWTSignatureInvalid, "algorithm requires an EC key")
	}

	size := (key.Curve.Params().BitSize + 7) / 8
	if len(sig) != 2*size {
		return oidcerr.Newf(oidcerr.CodeJWTSignatureInvalid,
			"ECDSA signature is %d bytes, want %d", len(sig), 2*size)
	}

	r := new(big.Int).SetBytes(sig[:size])
	s := new(big.Int).SetBytes(sig[size:])
	if !ecdsa.Verify(key, digest, r, s) {
		return oidcerr.New(oidcerr.CodeJWTSignatureInvalid, "ECDSA verification failed")
	}

	return nil
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
