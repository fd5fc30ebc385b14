package fingerprint

import (
	"crypto/md5"
	"encoding/hex"

	"github.com/zefrenchwan/registries.git/model"
)

// Hash returns the fingerprint of a record for an application.
// Same data and application give the same hash, whatever the key order.
func Hash(record model.Record, application string) (string, error) {
	content, err := Canonical(record)
	if err != nil {
		return "", err
	}

	sum := md5.Sum(append(content, application...))
	return hex.EncodeToString(sum[:]), nil
}

// Equal returns true if both values have the same canonical form
func Equal(a, b any) bool {
	left, errLeft := Canonical(a)
	right, errRight := Canonical(b)
	if errLeft != nil || errRight != nil {
		return false
	}

	return string(left) == string(right)
}
