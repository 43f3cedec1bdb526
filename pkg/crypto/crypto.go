package crypto

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// CodeAlphabet omits characters that are easy to confuse when read aloud or
// typed from a screenshot (0/O, 1/I/L).
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCode returns a random code of the requested length drawn uniformly from alphabet.
func GenerateCode(length int, alphabet string) (string, error) {
	if length <= 0 {
		return "", errors.New("code length must be positive")
	}
	if len(alphabet) < 2 {
		return "", errors.New("alphabet must contain at least two characters")
	}

	limit := big.NewInt(int64(len(alphabet)))
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		code[i] = alphabet[n.Int64()]
	}
	return string(code), nil
}
