package kit

import (
	"strings"
	"unicode"
)

// ChannelID accepts "<#123>" or a bare snowflake.
func ChannelID(arg string) (string, bool) {
	return unwrap(arg, "<#", ">")
}

// RoleID accepts "<@&123>" or a bare snowflake.
func RoleID(arg string) (string, bool) {
	return unwrap(arg, "<@&", ">")
}

// UserID accepts "<@123>", "<@!123>" or a bare snowflake.
func UserID(arg string) (string, bool) {
	s := strings.TrimSpace(arg)
	if strings.HasPrefix(s, "<@!") {
		return unwrap(s, "<@!", ">")
	}
	if strings.HasPrefix(s, "<@&") {
		return "", false
	}
	return unwrap(s, "<@", ">")
}

func unwrap(arg, prefix, suffix string) (string, bool) {
	s := strings.TrimSpace(arg)
	if strings.HasPrefix(s, prefix) && strings.HasSuffix(s, suffix) {
		s = s[len(prefix) : len(s)-len(suffix)]
	}
	if !IsSnowflake(s) {
		return "", false
	}
	return s, true
}

func IsSnowflake(s string) bool {
	if s == "" || len(s) > 20 {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
