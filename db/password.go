package db

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	dummyOnce sync.Once
	dummyHash string
)

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// DummyHash is compared against when a login is unknown so that failed
// logins cost the same whether or not the account exists.
func DummyHash() string {
	dummyOnce.Do(func() {
		dummyHash, _ = HashPassword("worklog-dummy-password")
	})
	return dummyHash
}
