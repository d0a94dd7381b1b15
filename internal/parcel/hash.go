package parcel

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DerivedPrefix marks identifiers minted for records that arrived without one
const DerivedPrefix = "ADDR-"

// DerivedID returns a stable identifier for a record without a source parcel
// identifier, computed from its normalized address and municipality.
func DerivedID(addressKey, municipality string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(strings.TrimSpace(municipality)) + "|" + addressKey))
	return DerivedPrefix + strings.ToUpper(hex.EncodeToString(sum[:6]))
}

// IsDerived reports whether id was minted by DerivedID
func IsDerived(id string) bool {
	return strings.HasPrefix(id, DerivedPrefix)
}
