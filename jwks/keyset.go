package jwks

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrMalformedKeySet = errors.New("jwks: malformed key set")
	ErrFetch           = errors.New("jwks: fetch failed")
)

// JWK is the subset of RFC 7517 fields used for RSA signature keys.
type JWK struct {
	KeyID     string `json:"kid"`
	KeyType   string `json:"kty"`
	Algorithm string `json:"alg,omitempty"`
	Use       string `json:"use,omitempty"`
	N         string `json:"n"`
	E         string `json:"e"`
}

// Document is the JSON body served by /v1/jwks.
type Document struct {
	Keys []JWK `json:"keys"`
}

// KeySet is a parsed Document indexed by kid.
type KeySet struct {
	keys  map[string]*rsa.PublicKey
	order []string
}

// ParseKeySet decodes a JWKS document, skipping non RSA and encryption keys.
func ParseKeySet(raw []byte) (*KeySet, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedKeySet, err)
	}
	set := &KeySet{keys: make(map[string]*rsa.PublicKey, len(doc.Keys))}
	for _, jwk := range doc.Keys {
		if jwk.KeyType != "RSA" || (jwk.Use != "" && jwk.Use != "sig") {
			continue
		}
		key, err := jwk.RSAPublicKey()
		if err != nil {
			return nil, err
		}
		if _, dup := set.keys[jwk.KeyID]; !dup {
			set.order = append(set.order, jwk.KeyID)
		}
		set.keys[jwk.KeyID] = key
	}
	return set, nil
}

// Lookup returns the key for kid. An empty kid matches only a set holding
// exactly one key.
func (s *KeySet) Lookup(kid string) (*rsa.PublicKey, bool) {
	if s == nil {
		return nil, false
	}
	if kid == "" {
		if len(s.order) == 1 {
			return s.keys[s.order[0]], true
		}
		return nil, false
	}
	key, ok := s.keys[kid]
	return key, ok
}

// KeyIDs lists the kids in document order.
func (s *KeySet) KeyIDs() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// RSAPublicKey decodes the modulus and exponent.
func (k JWK) RSAPublicKey() (*rsa.PublicKey, error) {
	n, err := decodeBigInt(k.N)
	if err != nil {
		return nil, fmt.Errorf("%w: kid %q modulus: %v", ErrMalformedKeySet, k.KeyID, err)
	}
	e, err := decodeBigInt(k.E)
	if err != nil {
		return nil, fmt.Errorf("%w: kid %q exponent: %v", ErrMalformedKeySet, k.KeyID, err)
	}
	if n.Sign() <= 0 || !e.IsInt64() || e.Int64() < 3 || e.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("%w: kid %q has an invalid rsa key", ErrMalformedKeySet, k.KeyID)
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// NewJWK encodes an RSA public key, mainly for tests and fixtures.
func NewJWK(kid string, key *rsa.PublicKey) JWK {
	return JWK{
		KeyID:     kid,
		KeyType:   "RSA",
		Algorithm: "RS256",
		Use:       "sig",
		N:         base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:         base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

func decodeBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty value")
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		// some issuers pad
		if data, err = base64.URLEncoding.DecodeString(s); err != nil {
			return nil, err
		}
	}
	return new(big.Int).SetBytes(data), nil
}
