package escrow

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// GenerateCode returns a 6-digit confirmation code from a cryptographically
// sound source. Rejection sampling keeps the distribution uniform.
func GenerateCode() (string, error) {
	const (
		codeSpace = 1000000
		// largest multiple of codeSpace below 2^32
		limit = (1 << 32) / codeSpace * codeSpace
	)

	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		n := binary.BigEndian.Uint32(buf[:])
		if n < limit {
			return fmt.Sprintf("%06d", n%codeSpace), nil
		}
	}
}
