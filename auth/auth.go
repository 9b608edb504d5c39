// Package auth implements login and sign-up against a store.AccountStore,
// using bcrypt for password hashing. Authenticate is deliberately
// constant-shape: it returns the same (nil, nil) result whether the email
// is unknown or the password is wrong, and spends a bcrypt comparison
// either way, so a timing or response-shape oracle can't be used to
// enumerate registered emails.
package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/store"
)

// dummyHash is a fixed bcrypt hash compared against when no such user
// exists, so the "user not found" path costs the same number of rounds as
// the "wrong password" path.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoO8Y8F8m2G8YV0e2c7Zy8xq9e8p5VvKfK"

// NormalizeEmail lowercases and trims an email address. Both login and
// sign-up must apply this before any store lookup or id derivation.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate looks up emailNormalized and compares password against its
// stored bcrypt hash. It returns (nil, nil), not an error, for both "no
// such user" and "wrong password"; only store or bcrypt failures unrelated
// to the credential itself are returned as errors.
func Authenticate(ctx context.Context, st store.AccountStore, emailNormalized, password string) (*chatproto.User, error) {
	user, err := st.GetUserByEmail(ctx, emailNormalized)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, nil
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	return user, nil
}

// SignUp hashes password with a fresh bcrypt salt and creates the account.
// It never authenticates the new session; the caller still has to send a
// login after a successful sign-up.
func SignUp(ctx context.Context, st store.AccountStore, fullName, emailNormalized, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	id, err := st.AddUser(ctx, fullName, emailNormalized, string(hash))
	if err != nil {
		return "", err
	}
	return id, nil
}
