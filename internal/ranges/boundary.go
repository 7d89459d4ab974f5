package ranges

import (
	"crypto/rand"
	"io"
)

const (
	boundaryAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	boundaryLength   = 38

	// Largest multiple of len(boundaryAlphabet) that fits in a byte.
	boundaryCutoff = 256 - 256%len(boundaryAlphabet)
)

// NewBoundary returns a random multipart boundary of 38 alphanumerics.
func NewBoundary() (string, error) {
	return newBoundary(rand.Reader)
}

func newBoundary(src io.Reader) (string, error) {
	out := make([]byte, 0, boundaryLength)
	buf := make([]byte, boundaryLength)
	for len(out) < boundaryLength {
		if _, err := io.ReadFull(src, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= boundaryCutoff {
				continue
			}
			out = append(out, boundaryAlphabet[int(b)%len(boundaryAlphabet)])
			if len(out) == boundaryLength {
				break
			}
		}
	}
	return string(out), nil
}
