package services

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	credentialKeyInfo = "moonbattery device credential"
	credentialKeySize = 32
)

// DeviceClaims is the payload of a device credential.
type DeviceClaims struct {
	SerialNumber string `json:"serialNumber"`
	DeviceID     int64  `json:"deviceId"`
	jwt.RegisteredClaims
}

// CredentialService issues and verifies HS256 device credentials.
type CredentialService struct {
	key    []byte
	expiry time.Duration
	now    func() time.Time
}

type CredentialOption func(*CredentialService)

// WithClock replaces the clock used for issuance and expiry checks.
func WithClock(now func() time.Time) CredentialOption {
	return func(s *CredentialService) { s.now = now }
}

func NewCredentialService(secret string, expiry time.Duration, opts ...CredentialOption) (*CredentialService, error) {
	if secret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if expiry <= 0 {
		return nil, errors.New("credential expiry must be positive")
	}

	key := make([]byte, credentialKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(credentialKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive credential key: %w", err)
	}

	s := &CredentialService{key: key, expiry: expiry, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a credential for the device. The returned expiry is truncated
// to the second, as it is encoded in the token.
func (s *CredentialService) Issue(serialNumber string, deviceID int64) (string, time.Time, error) {
	now := s.now()
	claims := DeviceClaims{
		SerialNumber: serialNumber,
		DeviceID:     deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   serialNumber,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign credential: %w", err)
	}
	return token, claims.ExpiresAt.Time, nil
}

// Verify checks signature, algorithm and expiry. Any failure is reported as
// ErrInvalidCredential; the cause is kept in the chain for logging.
func (s *CredentialService) Verify(tokenString string) (*DeviceClaims, error) {
	claims := &DeviceClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}

	if claims.SerialNumber == "" || claims.DeviceID <= 0 {
		return nil, fmt.Errorf("%w: missing device claims", ErrInvalidCredential)
	}
	if claims.Subject != claims.SerialNumber {
		return nil, fmt.Errorf("%w: subject does not match serial number", ErrInvalidCredential)
	}

	return claims, nil
}
