package main

import "time"

// staticKeychain is a demo stand-in for the keychain interface (§6): one
// fixed key id (1) and secret, always active, never rotated. A production
// deployment supplies its own time-windowed keychain; the core only ever
// consumes the (key_id, secret) pair this lookup returns.
type staticKeychain struct {
	name   string
	secret []byte
}

func newStaticKeychain(name, secret string) *staticKeychain {
	return &staticKeychain{name: name, secret: []byte(secret)}
}

// lookup matches eigrp.KeyLookup's shape.
func (k *staticKeychain) lookup(keychainName string, _ time.Time) (uint32, []byte, bool) {
	if keychainName != k.name || len(k.secret) == 0 {
		return 0, nil, false
	}
	return 1, k.secret, true
}
