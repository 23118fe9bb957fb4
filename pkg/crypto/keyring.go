// Package crypto seals credentials so they can sit in config files and environment
// files without being readable in plain text.
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyEnv holds the base64 master key for version 1. Rotated keys use KeyEnv_V2, _V3, ...
	KeyEnv = "OKX_CORE_MASTER_KEY"

	sealedPrefix = "ENC[v"
	maxVersions  = 10
)

var (
	ErrInvalidKey     = errors.New("invalid master key: must be 32 bytes")
	ErrNotSealed      = errors.New("value is not sealed")
	ErrOpenFailed     = errors.New("unable to open sealed value")
	ErrNoKeys         = errors.New("no master key configured")
	ErrUnknownVersion = errors.New("sealed with an unknown key version")
)

// Keyring opens values sealed under any loaded key version and seals new values with
// the newest one. Sealed values look like ENC[v2]:base64(nonce|ciphertext).
type Keyring struct {
	mu      sync.RWMutex
	current int
	keys    map[int][]byte
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[int][]byte)}
}

// LoadKeyring reads KeyEnv and its rotated variants through getenv. A keyring with no
// keys is returned without error; it fails only when asked to open or seal.
func LoadKeyring(getenv func(string) string) (*Keyring, error) {
	kr := NewKeyring()
	for v := 1; v <= maxVersions; v++ {
		name := KeyEnv
		if v > 1 {
			name = fmt.Sprintf("%s_V%d", KeyEnv, v)
		}
		raw := getenv(name)
		if raw == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if err := kr.Add(v, key); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return kr, nil
}

// Add registers key under version. The highest version seals.
func (k *Keyring) Add(version int, key []byte) error {
	if len(key) != chacha20poly1305.KeySize {
		return ErrInvalidKey
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[version] = append([]byte(nil), key...)
	if version > k.current {
		k.current = version
	}
	return nil
}

func (k *Keyring) Seal(plaintext string) (string, error) {
	k.mu.RLock()
	version, key := k.current, k.keys[k.current]
	k.mu.RUnlock()
	if key == nil {
		return "", ErrNoKeys
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), versionAD(version))
	return fmt.Sprintf("%s%d]:%s", sealedPrefix, version, base64.StdEncoding.EncodeToString(sealed)), nil
}

func (k *Keyring) Open(value string) (string, error) {
	version, payload, err := parseSealed(value)
	if err != nil {
		return "", err
	}
	k.mu.RLock()
	key, loaded := k.keys[version], len(k.keys)
	k.mu.RUnlock()
	if key == nil {
		if loaded == 0 {
			return "", ErrNoKeys
		}
		return "", fmt.Errorf("%w: v%d", ErrUnknownVersion, version)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrOpenFailed
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	if len(data) < aead.NonceSize() {
		return "", ErrOpenFailed
	}
	plain, err := aead.Open(nil, data[:aead.NonceSize()], data[aead.NonceSize():], versionAD(version))
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// Reseal opens value and seals it again under the newest key.
func (k *Keyring) Reseal(value string) (string, error) {
	plain, err := k.Open(value)
	if err != nil {
		return "", err
	}
	return k.Seal(plain)
}

// OpenIfSealed returns plain values unchanged.
func (k *Keyring) OpenIfSealed(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	return k.Open(value)
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// GenerateKey returns a random base64 master key.
func GenerateKey() (string, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

func parseSealed(value string) (int, string, error) {
	if !IsSealed(value) {
		return 0, "", ErrNotSealed
	}
	end := strings.Index(value, "]:")
	if end < 0 {
		return 0, "", ErrNotSealed
	}
	var version int
	if _, err := fmt.Sscanf(value[len(sealedPrefix):end], "%d", &version); err != nil || version <= 0 {
		return 0, "", ErrNotSealed
	}
	return version, value[end+2:], nil
}

// versionAD binds the ciphertext to its version label.
func versionAD(version int) []byte {
	return []byte(fmt.Sprintf("okx-core/v%d", version))
}
