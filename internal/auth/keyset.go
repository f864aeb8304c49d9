// Package auth implements the fabric's credential surfaces: the static API
// key set for service callers and executor token helpers. All comparisons are
// constant-time over the credential material.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"
)

type keyEntry struct {
	identity string
	digest   [sha256.Size]byte
}

// KeySet is the configured API key set, parsed once at startup from the
// API_KEYS wire format. Keys are held as SHA-256 digests; the plaintext never
// outlives parsing.
type KeySet struct {
	entries []keyEntry
	admins  map[string]bool
}

// ParseKeySet parses "service:key,service:key,..." and marks the identities in
// adminIdentities as admin-scoped. Error messages never include key material.
func ParseKeySet(raw string, adminIdentities []string) (*KeySet, error) {
	ks := &KeySet{admins: make(map[string]bool)}
	for _, id := range adminIdentities {
		if id = strings.TrimSpace(id); id != "" {
			ks.admins[id] = true
		}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ks, nil
	}
	for i, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		identity, key, ok := strings.Cut(pair, ":")
		if !ok || identity == "" || key == "" {
			return nil, fmt.Errorf("malformed API key entry at position %d: want service:key", i)
		}
		ks.entries = append(ks.entries, keyEntry{
			identity: identity,
			digest:   sha256.Sum256([]byte(key)),
		})
	}
	return ks, nil
}

// Verify looks up key and returns the bound caller identity. The scan always
// visits every entry; the comparison is constant-time in the key material.
func (ks *KeySet) Verify(key string) (*Identity, bool) {
	if ks == nil || key == "" {
		return nil, false
	}
	sum := sha256.Sum256([]byte(key))
	match := -1
	for i := range ks.entries {
		if subtle.ConstantTimeCompare(sum[:], ks.entries[i].digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return nil, false
	}
	name := ks.entries[match].identity
	return &Identity{Name: name, Admin: ks.admins[name]}, true
}

// IsAdmin reports whether identity carries admin scope.
func (ks *KeySet) IsAdmin(identity string) bool {
	return ks != nil && ks.admins[identity]
}

// Empty reports whether no keys are configured.
func (ks *KeySet) Empty() bool {
	return ks == nil || len(ks.entries) == 0
}

// Len returns the number of configured keys.
func (ks *KeySet) Len() int {
	if ks == nil {
		return 0
	}
	return len(ks.entries)
}
