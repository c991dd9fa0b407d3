// Package secure keeps generated private key material out of ordinary heap
// memory.
//
// It wraps memguard: sealed data is encrypted at rest (XSalsa20Poly1305),
// mlocked where the platform allows, and wiped when a LockedBuffer is
// destroyed.
//
//	buf, err := secure.NewSecureBuffer(pemBytes)
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//
//	err = buf.Use(func(plaintext []byte) error {
//	    return store(string(plaintext))
//	})
//
// On Linux mlock needs RLIMIT_MEMLOCK headroom; memguard degrades to normal
// memory when it is unavailable. None of this protects against an attacker
// with access to the running process.
package secure
