package credentials

import "crypto/rand"

// idAlphabet has 64 symbols, so mapping bytes with a modulo stays uniform.
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// IDLength is the length of every broker-minted identifier: room ids, peer
// ids, confirm tokens, and relay correlation ids.
const IDLength = 24

// SecureID returns a fresh 24-character identifier drawn from the
// URL-safe alphabet with crypto/rand.
func SecureID() string {
	buf := make([]byte, IDLength)
	if _, err := rand.Read(buf); err != nil {
		panic("credentials: reading random id: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}
