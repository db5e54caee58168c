package auth

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

const (
	publishableTestPrefix = "pk_test_"
	publishableLivePrefix = "pk_live_"
	secretTestPrefix      = "sk_test_"
	secretLivePrefix      = "sk_live_"
	keyPayloadTerminator  = "$"
)

// PublishableKey is a parsed pk_test_/pk_live_ key.
type PublishableKey struct {
	Raw         string
	Type        InstanceType
	FrontendAPI string
}

// InstanceID identifies the tenant instance the key was issued for.
func (k PublishableKey) InstanceID() string { return strings.ToLower(k.FrontendAPI) }

// SecretKey is a parsed sk_test_/sk_live_ key.
type SecretKey struct {
	Raw        string
	Type       InstanceType
	InstanceID string
}

// KeyPair is the publishable/secret key couple configured for a request.
type KeyPair struct {
	PublishableKey string
	SecretKey      string
}

// Instance is the resolved tenant a key pair belongs to.
type Instance struct {
	ID             string
	FrontendAPI    string
	Type           InstanceType
	PublishableKey string
	SecretKey      string
}

// IsDevelopment reports whether the instance runs with development keys.
func (i Instance) IsDevelopment() bool { return i.Type == InstanceDevelopment }

// ParsePublishableKey decodes the frontend API host embedded in a publishable key.
func ParsePublishableKey(raw string) (PublishableKey, error) {
	raw = strings.TrimSpace(raw)
	var typ InstanceType
	var encoded string
	switch {
	case strings.HasPrefix(raw, publishableTestPrefix):
		typ, encoded = InstanceDevelopment, raw[len(publishableTestPrefix):]
	case strings.HasPrefix(raw, publishableLivePrefix):
		typ, encoded = InstanceProduction, raw[len(publishableLivePrefix):]
	default:
		return PublishableKey{}, fmt.Errorf("%w: publishable key must start with pk_test_ or pk_live_", ErrInvalidKeyFormat)
	}
	decoded, err := decodeKeyPayload(encoded)
	if err != nil {
		return PublishableKey{}, fmt.Errorf("%w: publishable key: %v", ErrInvalidKeyFormat, err)
	}
	host, ok := strings.CutSuffix(decoded, keyPayloadTerminator)
	if !ok || host == "" || strings.Contains(host, keyPayloadTerminator) || !isHostLike(host) {
		return PublishableKey{}, fmt.Errorf("%w: publishable key payload is not a frontend api host", ErrInvalidKeyFormat)
	}
	return PublishableKey{Raw: raw, Type: typ, FrontendAPI: host}, nil
}

// ParseSecretKey decodes the instance identifier embedded in a secret key.
func ParseSecretKey(raw string) (SecretKey, error) {
	raw = strings.TrimSpace(raw)
	var typ InstanceType
	var encoded string
	switch {
	case strings.HasPrefix(raw, secretTestPrefix):
		typ, encoded = InstanceDevelopment, raw[len(secretTestPrefix):]
	case strings.HasPrefix(raw, secretLivePrefix):
		typ, encoded = InstanceProduction, raw[len(secretLivePrefix):]
	default:
		return SecretKey{}, fmt.Errorf("%w: secret key must start with sk_test_ or sk_live_", ErrInvalidKeyFormat)
	}
	decoded, err := decodeKeyPayload(encoded)
	if err != nil {
		return SecretKey{}, fmt.Errorf("%w: secret key: %v", ErrInvalidKeyFormat, err)
	}
	instance, secret, ok := strings.Cut(decoded, keyPayloadTerminator)
	if !ok || instance == "" || secret == "" || !isHostLike(instance) {
		return SecretKey{}, fmt.Errorf("%w: secret key payload is malformed", ErrInvalidKeyFormat)
	}
	return SecretKey{Raw: raw, Type: typ, InstanceID: strings.ToLower(instance)}, nil
}

// EncodePublishableKey builds a publishable key for the given frontend API host.
func EncodePublishableKey(typ InstanceType, frontendAPI string) string {
	prefix := publishableLivePrefix
	if typ == InstanceDevelopment {
		prefix = publishableTestPrefix
	}
	return prefix + base64.StdEncoding.EncodeToString([]byte(frontendAPI+keyPayloadTerminator))
}

// EncodeSecretKey builds a secret key bound to the given frontend API host.
func EncodeSecretKey(typ InstanceType, frontendAPI, secret string) string {
	prefix := secretLivePrefix
	if typ == InstanceDevelopment {
		prefix = secretTestPrefix
	}
	return prefix + base64.StdEncoding.EncodeToString([]byte(frontendAPI+keyPayloadTerminator+secret))
}

// AssertSameInstance fails with ErrKeyMismatch when the two keys were issued
// for different instances or environments.
func AssertSameInstance(publishableKey, secretKey string) error {
	_, err := resolveKeyPair(KeyPair{PublishableKey: publishableKey, SecretKey: secretKey})
	return err
}

// KeyResolver caches resolved key pairs. The mapping is immutable per pair,
// so concurrent misses may both write and the last writer wins.
type KeyResolver struct {
	resolved sync.Map
}

// NewKeyResolver returns an empty resolver.
func NewKeyResolver() *KeyResolver { return &KeyResolver{} }

// Resolve parses and cross-checks the key pair.
func (r *KeyResolver) Resolve(pair KeyPair) (Instance, error) {
	if r == nil {
		return resolveKeyPair(pair)
	}
	if cached, ok := r.resolved.Load(pair); ok {
		return cached.(Instance), nil
	}
	instance, err := resolveKeyPair(pair)
	if err != nil {
		return Instance{}, err
	}
	r.resolved.Store(pair, instance)
	return instance, nil
}

func resolveKeyPair(pair KeyPair) (Instance, error) {
	pk, err := ParsePublishableKey(pair.PublishableKey)
	if err != nil {
		return Instance{}, err
	}
	sk, err := ParseSecretKey(pair.SecretKey)
	if err != nil {
		return Instance{}, err
	}
	if pk.InstanceID() != sk.InstanceID {
		return Instance{}, fmt.Errorf("%w: %q != %q", ErrKeyMismatch, pk.InstanceID(), sk.InstanceID)
	}
	if pk.Type != sk.Type {
		return Instance{}, fmt.Errorf("%w: %s publishable key with %s secret key", ErrKeyMismatch, pk.Type, sk.Type)
	}
	return Instance{
		ID:             pk.InstanceID(),
		FrontendAPI:    pk.FrontendAPI,
		Type:           pk.Type,
		PublishableKey: pk.Raw,
		SecretKey:      sk.Raw,
	}, nil
}

func decodeKeyPayload(encoded string) (string, error) {
	if encoded == "" {
		return "", fmt.Errorf("empty payload")
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(encoded); err == nil {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("payload is not base64")
}

func isHostLike(s string) bool {
	if strings.ContainsAny(s, " /\\?#@") {
		return false
	}
	return strings.Contains(s, ".") || strings.HasPrefix(s, "localhost")
}
