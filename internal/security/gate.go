// Package security detects password-like clipboard content and protects it at rest.
package security

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PasswordPolicy decides what happens to content detected as a password.
type PasswordPolicy string

const (
	PolicyIgnore  PasswordPolicy = "ignore"
	PolicyEncrypt PasswordPolicy = "encrypt"
	PolicyAllow   PasswordPolicy = "allow"
)

// ParsePasswordPolicy accepts any casing of ignore, encrypt or allow.
func ParsePasswordPolicy(s string) (PasswordPolicy, error) {
	switch p := PasswordPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyIgnore, PolicyEncrypt, PolicyAllow:
		return p, nil
	}
	return "", fmt.Errorf("unknown password policy %q (want ignore, encrypt or allow)", s)
}

// passwordIndicators are window-title fragments that mark a password prompt.
var passwordIndicators = []string{
	"password", "passwd", "pwd", "pass",
	"contraseña", "clave", "secret",
	"login", "sign in", "authentication",
}

const (
	minPasswordLen = 6
	maxPasswordLen = 128
)

// Gate is the security gate in front of the store: it classifies secrets,
// fingerprints payloads and encrypts with the process master key.
type Gate struct {
	autoDetect bool
	cipher     *Cipher
}

// NewGate builds a gate around a 32-byte master key. When autoDetect is false
// IsPassword always reports false.
func NewGate(masterKey []byte, autoDetect bool) (*Gate, error) {
	c, err := NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return &Gate{autoDetect: autoDetect, cipher: c}, nil
}

// IsPassword ORs the window-title context signal with the character-class
// heuristic.
func (g *Gate) IsPassword(text, sourceApp, windowTitle string) bool {
	if !g.autoDetect {
		return false
	}
	return HasPasswordContext(windowTitle) || LooksLikePassword(text)
}

// Encrypt seals plaintext with the master key.
func (g *Gate) Encrypt(plaintext []byte) ([]byte, error) {
	return g.cipher.Encrypt(plaintext)
}

// Decrypt opens a payload produced by Encrypt.
func (g *Gate) Decrypt(payload []byte) ([]byte, error) {
	return g.cipher.Decrypt(payload)
}

// HasPasswordContext reports whether the window title contains a password indicator.
func HasPasswordContext(windowTitle string) bool {
	if windowTitle == "" {
		return false
	}
	lower := strings.ToLower(windowTitle)
	for _, ind := range passwordIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// LooksLikePassword: 6-128 chars, no spaces or line breaks, and at least three
// of upper, lower, digit and special characters.
func LooksLikePassword(text string) bool {
	n := utf8.RuneCountInString(text)
	if n < minPasswordLen || n > maxPasswordLen {
		return false
	}
	if strings.ContainsAny(text, " \t\r\n") {
		return false
	}

	var upper, lower, digit, special bool
	for _, r := range text {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case !unicode.IsLetter(r):
			special = true
		}
	}

	classes := 0
	for _, has := range []bool{upper, lower, digit, special} {
		if has {
			classes++
		}
	}
	return classes >= 3
}

// Hash fingerprints a payload for duplicate detection: base64 SHA-256.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return base64.StdEncoding.EncodeToString(sum[:])
}
