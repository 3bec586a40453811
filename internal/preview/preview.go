// Package preview holds the per-process preview-mode credentials.
// They live in memory only: restarting the process invalidates every
// outstanding preview link.
package preview

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
)

// Props is the credential triple backing preview-mode cookies.
type Props struct {
	PreviewModeID string
	SigningKey    string
	EncryptionKey string
}

// Cache generates the credentials on first access and returns the same
// values for the life of the process.
type Cache struct {
	once  sync.Once
	props Props
	err   error
}

// Get returns the process's preview credentials, generating them on the
// first call.
func (c *Cache) Get() (Props, error) {
	c.once.Do(func() {
		id, err := randomHex(16)
		if err != nil {
			c.err = fmt.Errorf("generate preview mode id: %w", err)
			return
		}
		signing, err := randomHex(32)
		if err != nil {
			c.err = fmt.Errorf("generate preview signing key: %w", err)
			return
		}
		encryption, err := randomHex(32)
		if err != nil {
			c.err = fmt.Errorf("generate preview encryption key: %w", err)
			return
		}
		c.props = Props{
			PreviewModeID: id,
			SigningKey:    signing,
			EncryptionKey: encryption,
		}
	})
	return c.props, c.err
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
