package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// hashDescriptionPrefix is how many runes of the description feed the hash.
const hashDescriptionPrefix = 50

// GenerateHash derives the content identifier of a transaction:
// date (YYYY-MM-DD), the first 50 runes of the lowercased description,
// the absolute amount with two decimals and the account, joined with "|",
// folded through a 32-bit polynomial rolling hash and returned in base 36.
//
// The amount sign is ignored, so a debit and a credit of the same magnitude
// on the same day with the same description share a hash.
func GenerateHash(date time.Time, description string, amount decimal.Decimal, accountID string) string {
	desc := []rune(strings.ToLower(description))
	if len(desc) > hashDescriptionPrefix {
		desc = desc[:hashDescriptionPrefix]
	}

	key := strings.Join([]string{
		fmt.Sprintf("%04d-%02d-%02d", date.Year(), date.Month(), date.Day()),
		string(desc),
		amount.Abs().StringFixed(2),
		accountID,
	}, "|")

	var h int32
	for _, r := range key {
		h = h*31 + int32(r)
	}

	v := int64(h)
	if v < 0 {
		v = -v
	}
	return strconv.FormatInt(v, 36)
}
