package platform

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// NormalizePhone reduces a phone number in any formatting to its canonical
// comparable form: E.164 digits with no '+' or punctuation. Telegram stores
// phones this way already; iMessage handles and user input arrive with
// arbitrary spacing, dashes, and parens. Strings that cannot be parsed as
// phone numbers fall back to their bare digits so suffix matching still
// works on short or partial numbers.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	toParse := raw
	if !strings.HasPrefix(toParse, "+") {
		toParse = "+" + toParse
	}
	num, err := phonenumbers.Parse(toParse, "")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return Digits(raw)
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+")
}

// FormatPhone renders a stored phone number for display in international
// format. Unparseable values are returned as-is.
func FormatPhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	toParse := raw
	if !strings.HasPrefix(toParse, "+") {
		toParse = "+" + toParse
	}
	num, err := phonenumbers.Parse(toParse, "")
	if err != nil {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

// Digits strips everything but decimal digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SamePhone reports whether two phone strings denote the same number after
// canonicalization. Differently formatted but identical numbers compare
// equal; as a last resort the 10-digit national suffixes are compared, which
// handles stored handles missing their country code.
func SamePhone(a, b string) bool {
	na, nb := NormalizePhone(a), NormalizePhone(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	sa, sb := lastN(na, 10), lastN(nb, 10)
	return len(sa) == 10 && sa == sb
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
