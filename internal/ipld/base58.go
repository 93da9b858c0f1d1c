package ipld

import (
	"fmt"
	"math/big"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index [256]int8

func init() {
	for i := range base58Index {
		base58Index[i] = -1
	}
	for i, c := range base58Alphabet {
		base58Index[c] = int8(i)
	}
}

// base58Encode implements Base58-BTC, used for CID v0 text form.
func base58Encode(data []byte) string {
	zero := big.NewInt(0)
	radix := big.NewInt(58)
	x := new(big.Int).SetBytes(data)

	var out []byte
	for x.Cmp(zero) > 0 {
		mod := new(big.Int)
		x.DivMod(x, radix, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}

	// leading zero bytes become leading '1's
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, base58Alphabet[0])
	}
	reverse(out)
	return string(out)
}

func base58Decode(s string) ([]byte, error) {
	x := big.NewInt(0)
	radix := big.NewInt(58)
	for _, c := range s {
		if c < 0 || c > 255 || base58Index[c] == -1 {
			return nil, fmt.Errorf("invalid base58 character %q", c)
		}
		x.Mul(x, radix)
		x.Add(x, big.NewInt(int64(base58Index[c])))
	}

	decoded := x.Bytes()

	var leading int
	for _, c := range s {
		if c != rune(base58Alphabet[0]) {
			break
		}
		leading++
	}

	out := make([]byte, leading+len(decoded))
	copy(out[leading:], decoded)
	return out, nil
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
