package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"scholardock/pkg/utils"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Operator is the single account allowed to drive the pipeline. The
// password is only ever held as a bcrypt hash.
type Operator struct {
	Username     string
	PasswordHash []byte
}

func OperatorFrom(cfg utils.AuthConfig) Operator {
	return Operator{
		Username:     strings.TrimSpace(cfg.OperatorUser),
		PasswordHash: []byte(cfg.OperatorPasswordHash),
	}
}

// Verify returns ErrInvalidCredentials for a wrong user or password, and
// also when no hash is configured.
func (o Operator) Verify(username, password string) error {
	if len(o.PasswordHash) == 0 || o.Username == "" {
		return ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(username)), []byte(o.Username)) == 1
	// always run bcrypt so a wrong user costs the same as a wrong password
	pwErr := bcrypt.CompareHashAndPassword(o.PasswordHash, []byte(password))
	if !userOK || pwErr != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword is used by the CLI to produce a config value.
func HashPassword(password string) (string, error) {
	if len(password) < 8 || len(password) > 72 {
		return "", errors.New("password must be 8-72 chars")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
