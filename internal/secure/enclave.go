package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned when a buffer is used after Destroy.
var ErrDestroyed = errors.New("secure buffer destroyed")

// ErrEmpty is returned for zero-length input; memguard refuses to seal it.
var ErrEmpty = errors.New("secure buffer: empty data")

// SecureBuffer keeps sensitive bytes (private key PEMs) sealed in a
// memguard enclave. Plaintext only exists while a caller holds the
// LockedBuffer returned by Open, or inside a Use callback.
type SecureBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// NewSecureBuffer seals data into an enclave. memguard wipes data once it
// has been copied, so callers must not reuse the slice afterwards.
func NewSecureBuffer(data []byte) (*SecureBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	size := len(data)
	return &SecureBuffer{
		enclave: memguard.NewEnclave(data),
		size:    size,
	}, nil
}

// Size returns the length of the sealed plaintext.
func (s *SecureBuffer) Size() int {
	return s.size
}

// Open decrypts the enclave into a locked buffer. The caller MUST call
// Destroy on the returned buffer.
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, ErrDestroyed
	}
	return s.enclave.Open()
}

// Use opens the buffer, hands the plaintext to fn and wipes it afterwards.
// fn must not retain the slice.
func (s *SecureBuffer) Use(fn func(plaintext []byte) error) error {
	locked, err := s.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Destroy drops the enclave. Calling it more than once is safe.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}

// IsDestroyed reports whether Destroy has been called.
func (s *SecureBuffer) IsDestroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

// Purge wipes every memguard allocation in the process. Call it once on
// shutdown.
func Purge() {
	memguard.Purge()
}
