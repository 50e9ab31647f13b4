package app

import (
	"crypto/rand"
	"math/big"
)

const (
	numeroPrefix   = "CPT-"
	numeroLength   = 8
	numeroAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	passwordLength   = 10
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	verificationCodeLength = 6
)

// randomString draws n characters from alphabet using crypto/rand.
func randomString(n int, alphabet string) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}

// GenerateNumeroCompte returns a candidate account number such as CPT-7K2M9QXA.
func GenerateNumeroCompte() (string, error) {
	suffix, err := randomString(numeroLength, numeroAlphabet)
	if err != nil {
		return "", err
	}
	return numeroPrefix + suffix, nil
}

func generateTemporaryPassword() (string, error) {
	return randomString(passwordLength, passwordAlphabet)
}

func generateVerificationCode() (string, error) {
	return randomString(verificationCodeLength, "0123456789")
}
