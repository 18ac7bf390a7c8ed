package cipher

import "errors"

// ErrInvalidKey is returned when a key of length zero, or none, is supplied
// to New.
var ErrInvalidKey = errors.New("cipher: invalid key")

// ErrInvalidCiphertext is returned when input passed to EncryptECB or
// DecryptECB is not a multiple of the block size (or, for DecryptECB, is
// empty), or when Unpad finds data that is not valid PKCS#5 padding.
var ErrInvalidCiphertext = errors.New("cipher: invalid ciphertext")
