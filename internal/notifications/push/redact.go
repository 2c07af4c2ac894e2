package push

import "strings"

// RedactToken masks a device token for logging, keeping the scheme prefix
// and the last four characters of the device part. For example,
// "ExponentPushToken[abcdefgh1234]" becomes "ExponentPushToken[***1234]".
//
// Values that do not look like a bracketed token are masked entirely.
func RedactToken(token string) string {
	if token == "" {
		return ""
	}

	open := strings.IndexByte(token, '[')
	if open < 0 || !strings.HasSuffix(token, "]") {
		return "***"
	}

	inner := token[open+1 : len(token)-1]
	if len(inner) <= 4 {
		return token[:open+1] + "***]"
	}
	return token[:open+1] + "***" + inner[len(inner)-4:] + "]"
}
