package ledger

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// inStorePrefix is the GS1 range reserved for restricted in-store numbering.
const inStorePrefix = "20"

// GenerateBarcode returns a random EAN-13 in the in-store range.
func GenerateBarcode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1e10))
	if err != nil {
		return "", fmt.Errorf("generate barcode: %w", err)
	}

	body := fmt.Sprintf("%s%010d", inStorePrefix, n.Int64())
	return body + string(rune('0'+ean13CheckDigit(body))), nil
}

func ean13CheckDigit(body string) int {
	sum := 0
	for i, r := range body {
		d := int(r - '0')
		if i%2 == 1 {
			d *= 3
		}
		sum += d
	}
	return (10 - sum%10) % 10
}

// ValidEAN13 reports whether code is 13 digits with a correct check digit.
func ValidEAN13(code string) bool {
	return looksLikeEAN13(code) && int(code[12]-'0') == ean13CheckDigit(code[:12])
}

// looksLikeEAN13 reports whether code is exactly 13 digits. Handwritten
// labels and other formats are accepted as they are.
func looksLikeEAN13(code string) bool {
	if len(code) != 13 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
