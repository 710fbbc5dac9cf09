package render

import (
	"strings"

	"golang.org/x/text/language"
)

// MatchLocale reports whether a recipient locale falls under a block locale
// by leading subtag: "ar" matches "ar_SA" and "ar-SA", "en" does not match
// "ar". A block with a region ("pt_BR") requires the same region.
func MatchLocale(block, recipient string) bool {
	block = canonical(block)
	recipient = canonical(recipient)
	if block == "" || recipient == "" {
		return false
	}
	if block == recipient || strings.HasPrefix(recipient, block+"-") {
		return true
	}

	bt, errB := language.Parse(block)
	rt, errR := language.Parse(recipient)
	if errB != nil || errR != nil {
		return false
	}
	bb, _ := bt.Base()
	rb, _ := rt.Base()
	if bb != rb {
		return false
	}
	if breg, conf := bt.Region(); conf == language.Exact {
		rreg, _ := rt.Region()
		return breg == rreg
	}
	return true
}

func matchAny(blocks []string, recipient string) bool {
	for _, b := range blocks {
		if MatchLocale(b, recipient) {
			return true
		}
	}
	return false
}

func canonical(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", "-"))
}
