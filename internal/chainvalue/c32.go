package chainvalue

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const c32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// Address versions.
const (
	VersionMainnetSingleSig byte = 22 // SP
	VersionMainnetMultiSig  byte = 20 // SM
	VersionTestnetSingleSig byte = 26 // ST
	VersionTestnetMultiSig  byte = 21 // SN
)

var (
	ErrInvalidAddress = errors.New("invalid principal address")
	ErrBadChecksum    = errors.New("principal checksum mismatch")
)

// EncodeAddress renders a c32check standard principal.
func EncodeAddress(version byte, hash160 []byte) (string, error) {
	if version >= 32 {
		return "", fmt.Errorf("%w: version %d", ErrInvalidAddress, version)
	}
	if len(hash160) != 20 {
		return "", fmt.Errorf("%w: hash length %d", ErrInvalidAddress, len(hash160))
	}
	payload := append(append([]byte(nil), hash160...), c32Checksum(version, hash160)...)
	return "S" + string(c32Alphabet[version]) + c32Encode(payload), nil
}

// ParseAddress splits a standard principal into version and hash160.
func ParseAddress(addr string) (byte, []byte, error) {
	addr = normalizeC32(addr)
	if len(addr) < 3 || addr[0] != 'S' {
		return 0, nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	version := strings.IndexByte(c32Alphabet, addr[1])
	if version < 0 {
		return 0, nil, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	payload, err := c32Decode(addr[2:])
	if err != nil {
		return 0, nil, err
	}
	if len(payload) < 24 {
		payload = append(make([]byte, 24-len(payload)), payload...)
	}
	if len(payload) != 24 {
		return 0, nil, fmt.Errorf("%w: payload length %d", ErrInvalidAddress, len(payload))
	}
	hash, sum := payload[:20], payload[20:]
	if !bytes.Equal(sum, c32Checksum(byte(version), hash)) {
		return 0, nil, ErrBadChecksum
	}
	return byte(version), hash, nil
}

// ParsePrincipal accepts "ADDR" or "ADDR.contract-name".
func ParsePrincipal(p string) (version byte, hash160 []byte, contract string, err error) {
	addr, name, isContract := strings.Cut(p, ".")
	if isContract && (name == "" || len(name) > 128) {
		return 0, nil, "", fmt.Errorf("%w: contract name %q", ErrInvalidAddress, name)
	}
	version, hash160, err = ParseAddress(addr)
	return version, hash160, name, err
}

// ValidPrincipal reports whether p parses as a standard or contract principal.
func ValidPrincipal(p string) bool {
	_, _, _, err := ParsePrincipal(p)
	return err == nil
}

func c32Checksum(version byte, hash []byte) []byte {
	first := sha256.Sum256(append([]byte{version}, hash...))
	second := sha256.Sum256(first[:])
	return second[:4]
}

func c32Encode(data []byte) string {
	n := new(big.Int).SetBytes(data)
	var digits []byte
	base := big.NewInt(32)
	mod := new(big.Int)
	for n.Sign() > 0 {
		n.DivMod(n, base, mod)
		digits = append(digits, c32Alphabet[mod.Int64()])
	}
	for _, b := range data {
		if b != 0 {
			break
		}
		digits = append(digits, '0')
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}

func c32Decode(s string) ([]byte, error) {
	zeros := 0
	for zeros < len(s) && s[zeros] == '0' {
		zeros++
	}
	n := new(big.Int)
	base := big.NewInt(32)
	for i := zeros; i < len(s); i++ {
		d := strings.IndexByte(c32Alphabet, s[i])
		if d < 0 {
			return nil, fmt.Errorf("%w: bad character %q", ErrInvalidAddress, s[i])
		}
		n.Mul(n, base)
		n.Add(n, big.NewInt(int64(d)))
	}
	return append(make([]byte, zeros), n.Bytes()...), nil
}

func normalizeC32(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("O", "0", "L", "1", "I", "1").Replace(s)
}
