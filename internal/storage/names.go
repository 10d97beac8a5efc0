package storage

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

const tokenAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTokenGenerator returns a random token source for staged asset names.
func NewTokenGenerator() (func() string, error) {
	gen, err := nanoid.CustomASCII(tokenAlphabet, 21)
	if err != nil {
		return nil, fmt.Errorf("failed to create token generator: %w", err)
	}
	return gen, nil
}

// Extension returns the lower-cased extension of the original file name.
// Everything else about the original name is discarded.
func Extension(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.ToLower(filepath.Ext(base))
}

// StagedName builds {token}_{epochMillis}{ext}.
func StagedName(token string, at time.Time, originalFilename string) string {
	return fmt.Sprintf("%s_%d%s", token, at.UnixMilli(), Extension(originalFilename))
}

// CommittedName builds {ownerID}_{epochMillis}{ext}, keeping the staged asset's extension.
func CommittedName(ownerID string, at time.Time, stagedName string) string {
	return fmt.Sprintf("%s_%d%s", ownerID, at.UnixMilli(), Extension(stagedName))
}

// NameTime extracts the timestamp embedded in a staged or committed name.
func NameTime(name string) (time.Time, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndexByte(stem, '_')
	if i < 0 || i == len(stem)-1 {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(stem[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis), true
}

// ValidateName rejects names that are empty or could address another directory.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidAssetName, name)
	}
	return nil
}
