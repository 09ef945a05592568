package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"
)

// PasswordList is the shared set of codes that unlock the forms. Entries are
// either plaintext or v1 hashes produced by HashPassword.
type PasswordList struct {
	plain  [][sha256.Size]byte
	hashed []string
}

func NewPasswordList(entries []string) *PasswordList {
	list := &PasswordList{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if IsHashed(entry) {
			list.hashed = append(list.hashed, entry)
			continue
		}
		list.plain = append(list.plain, sha256.Sum256([]byte(entry)))
	}
	return list
}

func (l *PasswordList) Len() int {
	if l == nil {
		return 0
	}
	return len(l.plain) + len(l.hashed)
}

// Match reports whether password equals any entry. Every plaintext entry is
// compared so the running time does not reveal which one matched.
func (l *PasswordList) Match(password string) bool {
	if l == nil {
		return false
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return false
	}
	candidate := sha256.Sum256([]byte(password))
	matched := 0
	for i := range l.plain {
		matched |= subtle.ConstantTimeCompare(candidate[:], l.plain[i][:])
	}
	if matched == 1 {
		return true
	}
	for _, encoded := range l.hashed {
		if VerifyPassword(password, encoded) {
			return true
		}
	}
	return false
}
