package auth

import "crypto/subtle"

// KeyRing maps bootstrap API keys to the role they grant.
type KeyRing struct {
	keys []keyRole
}

type keyRole struct {
	key  []byte
	role string
}

// NewKeyRing builds a ring from the operator and admin keys; empty keys are ignored.
func NewKeyRing(operatorKey, adminKey string) *KeyRing {
	kr := &KeyRing{}
	if adminKey != "" {
		kr.keys = append(kr.keys, keyRole{key: []byte(adminKey), role: RoleAdmin})
	}
	if operatorKey != "" {
		kr.keys = append(kr.keys, keyRole{key: []byte(operatorKey), role: RoleOperator})
	}
	return kr
}

// RoleFor returns the role granted by key.
func (kr *KeyRing) RoleFor(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	for _, k := range kr.keys {
		if subtle.ConstantTimeCompare(k.key, []byte(key)) == 1 {
			return k.role, true
		}
	}
	return "", false
}
