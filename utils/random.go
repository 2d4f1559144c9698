package utils

import (
	"crypto/rand"
	"math/big"
)

// CodeAlphabet has no 0/O or 1/I so printed codes read back unambiguously.
const CodeAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// RandomFromAlphabet draws length characters uniformly from alphabet.
func RandomFromAlphabet(alphabet string, length int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}

// RandomCode draws length characters from CodeAlphabet.
func RandomCode(length int) (string, error) {
	return RandomFromAlphabet(CodeAlphabet, length)
}
