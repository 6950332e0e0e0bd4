package utils

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	SerialNumberMin = 100000
	SerialNumberMax = 999999
)

var (
	ErrInvalidMacAddress = errors.New("invalid mac address format")

	macAddressPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)
	serialRange       = big.NewInt(SerialNumberMax - SerialNumberMin + 1)
)

// NormalizeMacAddress validates mac and returns it upper-cased with colon
// separators, so aa-bb-cc-dd-ee-ff and AA:BB:CC:DD:EE:FF are the same device.
func NormalizeMacAddress(mac string) (string, error) {
	if !macAddressPattern.MatchString(mac) {
		return "", ErrInvalidMacAddress
	}
	return strings.ToUpper(strings.ReplaceAll(mac, "-", ":")), nil
}

// GenerateSerialNumber returns a random six digit serial number.
func GenerateSerialNumber() (string, error) {
	n, err := rand.Int(rand.Reader, serialRange)
	if err != nil {
		return "", fmt.Errorf("failed to generate serial number: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+SerialNumberMin), nil
}
