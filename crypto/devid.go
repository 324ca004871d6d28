package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	// SeedSize is the length of a device seed in bytes.
	SeedSize = 32
	// DevIDLen is the length of a device id in hex digits.
	DevIDLen = 16
)

// DevID derives the 16 hex digit MQTT device id for seed. The same seed
// always yields the same id.
func DevID(seed []byte) string {
	h, _ := blake2b.New(DevIDLen/2, nil)
	h.Write([]byte("gamelink-devid"))
	h.Write(seed)
	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// NewSeed returns a fresh random device seed.
func NewSeed() ([]byte, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	return seed, nil
}

// LoadOrCreateSeed reads the seed stored at path, creating and saving a
// new one with owner-only permissions if there is none.
func LoadOrCreateSeed(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != SeedSize {
			return nil, fmt.Errorf("invalid seed file size: got %d, want %d", len(data), SeedSize)
		}
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create seed directory: %w", err)
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("failed to save seed: %w", err)
	}
	return seed, nil
}

// DeviceID returns the device id for the seed stored at path.
func DeviceID(path string) (string, error) {
	seed, err := LoadOrCreateSeed(path)
	if err != nil {
		return "", err
	}
	return DevID(seed), nil
}
