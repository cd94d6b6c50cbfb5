package rules

import "regexp"

// poBoxPattern matches the usual spellings of a post-office box address
// line: "PO Box 123", "P.O. Box 123", "POB 123", "Post Office Box 123",
// "Bin 4" and so on. A trailing box number is required, so street
// addresses that merely contain the words are not flagged.
var poBoxPattern = regexp.MustCompile(`(?i)\s*((?:P(?:OST)?.?\s*(?:O(?:FF(?:ICE)?)?)?.?\s*(?:B(?:IN|OX)?)?)+|(?:B(?:IN|OX)+\s+)+)\s*\d+\s*($|\s)`)

// ContainsPOBox reports whether an address line looks like a PO box.
func ContainsPOBox(line string) bool {
	if line == "" {
		return false
	}
	return poBoxPattern.MatchString(line)
}
