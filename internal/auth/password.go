package auth

import (
	"regexp"

	"golang.org/x/crypto/bcrypt"
)

// bcryptCost matches the work factor used when the user table was first
// populated; changing it only affects new hashes.
const bcryptCost = 12

// passwordChecks validates the account password policy: 8-16 characters with
// at least one lowercase, one uppercase, one digit and one special character.
var passwordChecks = []*regexp.Regexp{
	regexp.MustCompile(`^[A-Za-z\d@$!%*?&]{8,16}$`),
	regexp.MustCompile(`[a-z]`),
	regexp.MustCompile(`[A-Z]`),
	regexp.MustCompile(`\d`),
	regexp.MustCompile(`[@$!%*?&]`),
}

// ValidPassword reports whether the password satisfies the account policy.
func ValidPassword(password string) bool {
	for _, re := range passwordChecks {
		if !re.MatchString(password) {
			return false
		}
	}
	return true
}

// HashPassword generates a bcrypt hash of the given password.
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

// VerifyPassword checks if the provided password matches the hash.
func VerifyPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
