package cipher

// Pad appends PKCS#5 padding to data so its length becomes a multiple of
// BlockSize. The last byte of the padded result is always the padding
// length (1..BlockSize); if data is already block-aligned a full block of
// padding is added, per RFC 1423 §1.1.
func Pad(data []byte) []byte {
	pad := BlockSize - len(data)%BlockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

// Unpad removes PKCS#5 padding added by Pad. It returns ErrInvalidCiphertext
// if data is empty, not block-aligned, or its trailing padding byte is
// outside 1..BlockSize.
func Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}
	pad := int(data[len(data)-1])
	if pad < 1 || pad > BlockSize || pad > len(data) {
		return nil, ErrInvalidCiphertext
	}
	return data[:len(data)-pad], nil
}
