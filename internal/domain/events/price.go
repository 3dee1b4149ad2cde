package events

import (
	"regexp"
	"strings"
)

var (
	amountPattern  = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)
	amountStripper = strings.NewReplacer(",", "", "，", "", "¥", "", "￥", "", "円", "", "JPY", "", " ", "", "　", "")
	fullWidthDigit = strings.NewReplacer(
		"０", "0", "１", "1", "２", "2", "３", "3", "４", "4",
		"５", "5", "６", "6", "７", "7", "８", "8", "９", "9",
	)
)

// NormalizeAmount reduces a price amount to plain digit text such as "3000".
// The second return is false when no non-negative numeric amount is present.
func NormalizeAmount(raw string) (string, bool) {
	cleaned := amountStripper.Replace(fullWidthDigit.Replace(strings.TrimSpace(raw)))
	if !amountPattern.MatchString(cleaned) {
		return "", false
	}
	cleaned = strings.TrimLeft(cleaned, "0")
	if cleaned == "" || strings.HasPrefix(cleaned, ".") {
		cleaned = "0" + cleaned
	}
	return cleaned, true
}

// NormalizePrice applies tier and currency defaults. Entries without a
// numeric amount report false and are not stored.
func NormalizePrice(p Price) (Price, bool) {
	amount, ok := NormalizeAmount(p.Amount)
	if !ok {
		return Price{}, false
	}
	p.Amount = amount
	p.Tier = strings.TrimSpace(p.Tier)
	if p.Tier == "" {
		p.Tier = DefaultPriceTier
	}
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	p.DiscountInfo = strings.TrimSpace(p.DiscountInfo)
	return p, true
}
