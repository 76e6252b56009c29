// ABOUTME: Bearer token discovery from config, environment and token files
// ABOUTME: Reads the user identity from JWT claims without verifying the signature

package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// EnvToken is the environment variable checked for a token.
const EnvToken = "ROOMSYNC_TOKEN"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// subjectClaims are checked in order for the user ID.
var subjectClaims = []string{"sub", "id", "userId", "_id"}

// LoadToken returns the first token found. tokenFile may be empty.
func LoadToken(configured, tokenFile string) (string, error) {
	if token := strings.TrimSpace(configured); token != "" {
		return token, nil
	}
	if token := strings.TrimSpace(os.Getenv(EnvToken)); token != "" {
		return token, nil
	}

	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return "", fmt.Errorf("reading token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	path, err := DefaultTokenPath()
	if err != nil {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil
	}
	return strings.TrimSpace(string(data)), nil
}

// DefaultTokenPath returns $XDG_CONFIG_HOME/roomsync/token, falling back to
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultTokenPath() (string, error) {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("finding home directory: %w", err)
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "roomsync", "token"), nil
}

// Claims is the identity read from a token.
type Claims struct {
	Subject   string
	ExpiresAt time.Time
}

// Inspect decodes a JWT without verifying its signature. An expired token
// returns its claims together with ErrExpiredToken.
func Inspect(tokenString string) (Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var out Claims
	for _, key := range subjectClaims {
		if v, ok := claims[key].(string); ok && v != "" {
			out.Subject = v
			break
		}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}

	if out.Subject == "" {
		return out, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if !out.ExpiresAt.IsZero() && time.Now().After(out.ExpiresAt) {
		return out, ErrExpiredToken
	}
	return out, nil
}

// Subject returns the user ID carried by a token.
func Subject(tokenString string) (string, error) {
	claims, err := Inspect(tokenString)
	if err != nil && !errors.Is(err, ErrExpiredToken) {
		return "", err
	}
	return claims.Subject, nil
}
