package jwks

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"math/big"

	"github.com/vyrodovalexey/oidcrp/oidcerr"
)

// keyConverters dispatches JWK-to-public-key conversion by key type.
var keyConverters = map[string]func(*Key) (crypto.PublicKey, error){
	"RSA": rsaPublicKey,
	"EC":  ecPublicKey,
}

// ecCurves maps a JWK crv name to its curve and the exact byte length
// each coordinate must decode to.
var ecCurves = map[string]struct {
	curve elliptic.Curve
	size  int
}{
	"P-256": {elliptic.P256(), 32},
	"P-384": {elliptic.P384(), 48},
	"P-521": {elliptic.P521(), 66},
}

// ToPublicKey converts the JWK into an *rsa.PublicKey or
// *ecdsa.PublicKey, validating the key material along the way.
func (k *Key) ToPublicKey() (crypto.PublicKey, error) {
	convert, ok := keyConverters[k.Kty]
	if !ok {
		return nil, oidcerr.Newf(oidcerr.CodeUnsupportedKeyType, "unsupported key type %q", k.Kty)
	}
	return convert(k)
}

// ToDER converts the JWK into a DER-encoded SubjectPublicKeyInfo.
func (k *Key) ToDER() ([]byte, error) {
	pub, err := k.ToPublicKey()
	if err != nil {
		return nil, err
	}

	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeInvalidKeyMaterial, "encoding public key", err)
	}

	return der, nil
}

// ToPEM converts the JWK into a PEM-encoded SubjectPublicKeyInfo.
func (k *Key) ToPEM() (string, error) {
	der, err := k.ToDER()
	if err != nil {
		return "", err
	}

	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: der,
	})), nil
}

func rsaPublicKey(k *Key) (crypto.PublicKey, error) {
	nBytes, err := decodeField("n", k.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := decodeField("e", k.E)
	if err != nil {
		return nil, err
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() <= 0 || e.Int64() > int64(int(^uint(0)>>1)) {
		return nil, oidcerr.New(oidcerr.CodeInvalidKeyMaterial, "RSA exponent out of range")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

func ecPublicKey(k *Key) (crypto.PublicKey, error) {
	params, ok := ecCurves[k.Crv]
	if !ok {
		return nil, oidcerr.Newf(oidcerr.CodeInvalidKeyMaterial, "unsupported EC curve %q", k.Crv)
	}

	xBytes, err := decodeField("x", k.X)
	if err != nil {
		return nil, err
	}
	yBytes, err := decodeField("y", k.Y)
	if err != nil {
		return nil, err
	}

	// A coordinate shorter or longer than the curve's field size means
	// the key material was truncated or padded in transit.
	if len(xBytes) != params.size {
		return nil, oidcerr.Newf(oidcerr.CodeInvalidKeyMaterial,
			"EC x coordinate is %d bytes, want %d for %s", len(xBytes), params.size, k.Crv)
	}
	if len(yBytes) != params.size {
		return nil, oidcerr.Newf(oidcerr.CodeInvalidKeyMaterial,
			"EC y coordinate is %d bytes, want %d for %s", len(yBytes), params.size, k.Crv)
	}

	x := new(big.Int).SetBytes(xBytes)
	y := new(big.Int).SetBytes(yBytes)
	if !params.curve.IsOnCurve(x, y) {
		return nil, oidcerr.Newf(oidcerr.CodeInvalidKeyMaterial, "EC point is not on curve %s", k.Crv)
	}

	return &ecdsa.PublicKey{Curve: params.curve, X: x, Y: y}, nil
}

func decodeField(name, value string) ([]byte, error) {
	if value == "" {
		return nil, oidcerr.Newf(oidcerr.CodeInvalidKeyMaterial, "key field %s is empty", name)
	}

	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, oidcerr.Wrap(oidcerr.CodeInvalidKeyMaterial, "key field "+name+" is not valid base64url", err)
	}
	if len(decoded) == 0 {
		return nil, oidcerr.Newf(oidcerr.CodeInvalidKeyMaterial, "key field %s decodes to zero bytes", name)
	}

	return decoded, nil
}
