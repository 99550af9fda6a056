package crawler

import (
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	// Mobiles first so 04xx numbers are not read as landlines.
	phonePattern = regexp.MustCompile(
		`(?:\+?61[\s.-]?4\d{2}|\b04\d{2})[\s.-]?\d{3}[\s.-]?\d{3}` +
			`|\b1[38]00[\s.-]?\d{3}[\s.-]?\d{3}` +
			`|(?:\+?61[\s.-]?(?:\(0\)\s?)?(?:\(0?[2-478]\)|0?[2-478])|\(0[2-478]\)|\b0[2-478])[\s.-]?\d{4}[\s.-]?\d{4}`,
	)
	phoneCharsPattern = regexp.MustCompile(`[^0-9 ()+-]`)
	nonDigitPattern   = regexp.MustCompile(`\D`)

	emailPattern      = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)+`)
	validEmailPattern = regexp.MustCompile(`^[a-z0-9._+-]+@(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)
)

// Asset names such as logo@2x.png look like addresses.
var assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}

// CollapseWhitespace trims s and folds every whitespace run into one space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// FindPhone returns the first phone-shaped substring of text.
func FindPhone(text string) (string, bool) {
	match := phonePattern.FindString(text)
	if match == "" {
		return "", false
	}
	return match, true
}

// NormalizePhone renders Australian numbers in their display form:
// (0X) XXXX XXXX for landlines, 04XX XXX XXX for mobiles, and 1300 XXX XXX
// for 1300/1800 numbers. Anything else is reduced to digits, spaces, and
// ()+- characters. The result is stable under repeated normalization.
func NormalizePhone(raw string) string {
	digits := nonDigitPattern.ReplaceAllString(raw, "")
	switch {
	case len(digits) == 12 && strings.HasPrefix(digits, "610"):
		digits = digits[2:]
	case len(digits) == 11 && strings.HasPrefix(digits, "61"):
		digits = "0" + digits[2:]
	}

	if len(digits) == 10 {
		switch {
		case strings.HasPrefix(digits, "04"):
			return digits[:4] + " " + digits[4:7] + " " + digits[7:]
		case strings.HasPrefix(digits, "1300"), strings.HasPrefix(digits, "1800"):
			return digits[:4] + " " + digits[4:7] + " " + digits[7:]
		case strings.HasPrefix(digits, "0"):
			return "(" + digits[:2] + ") " + digits[2:6] + " " + digits[6:]
		}
	}

	if digits == "" {
		return ""
	}
	return CollapseWhitespace(phoneCharsPattern.ReplaceAllString(raw, " "))
}

// FindEmail returns the first valid address in text, normalized.
func FindEmail(text string) (string, bool) {
	for _, match := range emailPattern.FindAllString(text, -1) {
		if email := NormalizeEmail(match); email != "" {
			return email, true
		}
	}
	return "", false
}

// NormalizeEmail lowercases raw and strips any mailto: scheme and query.
// It returns "" when the result is not a plausible address. Percent-escapes
// are not decoded here, so a second pass never changes the result.
func NormalizeEmail(raw string) string {
	email := strings.TrimSpace(raw)
	if len(email) >= len("mailto:") && strings.EqualFold(email[:len("mailto:")], "mailto:") {
		email = email[len("mailto:"):]
	}
	if i := strings.IndexByte(email, '?'); i >= 0 {
		email = email[:i]
	}
	email = strings.ToLower(strings.TrimSpace(email))

	if !validEmailPattern.MatchString(email) || strings.Contains(email, "..") {
		return ""
	}
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(email, suffix) {
			return ""
		}
	}
	return email
}

// decodeCFEmail reverses Cloudflare email obfuscation: the first byte of the
// hex payload is the XOR key for the rest.
func decodeCFEmail(encoded string) (string, bool) {
	raw, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(raw) < 2 {
		return "", false
	}
	key := raw[0]
	out := make([]byte, len(raw)-1)
	for i, b := range raw[1:] {
		out[i] = b ^ key
	}
	return string(out), true
}
