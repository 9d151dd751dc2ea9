package utils

import "regexp"

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@]+)(@)`)

// MaskDSN hides the password segment of a connection string (postgres, redis, amqp).
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

// ShortHex abbreviates an address or transaction hash for human-facing text,
// e.g. 0x498581ff718922c3f8e6a244956af099b2652b2b -> 0x4985...2b2b.
func ShortHex(s string) string {
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "..." + s[len(s)-4:]
}
