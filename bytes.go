package iso8211

import "strconv"

// scanInt parses a leading decimal integer out of a fixed-size ASCII field,
// tolerating trailing garbage the way DDFScanInt does: it copies at most
// nMaxChars bytes and lets atoi stop at the first non-digit.
func scanInt(b []byte, maxChars int) int {
	if maxChars > 32 {
		maxChars = 32
	}
	if maxChars > len(b) {
		maxChars = len(b)
	}
	n := 0
	neg := false
	i := 0
	for i < maxChars && (b[i] == ' ' || b[i] == '\t') {
		i++
	}
	if i < maxChars && (b[i] == '+' || b[i] == '-') {
		neg = b[i] == '-'
		i++
	}
	for i < maxChars && b[i] >= '0' && b[i] <= '9' {
		n = n*10 + int(b[i]-'0')
		i++
	}
	if neg {
		n = -n
	}
	return n
}

// scanVariable returns the index of the first occurrence of delim within
// the first maxChars-1 bytes of b, or maxChars-1 if none is found.
func scanVariable(b []byte, maxChars int, delim byte) int {
	limit := maxChars - 1
	if limit > len(b) {
		limit = len(b)
	}
	for i := 0; i < limit; i++ {
		if b[i] == delim {
			return i
		}
	}
	return limit
}

// fetchVariable scans for the first occurrence of either delim1 or delim2
// within the first maxChars-1 bytes of b and returns the bytes preceding it
// as a string, plus the number of input bytes consumed (including the
// delimiter, when one was actually found within bounds).
func fetchVariable(b []byte, maxChars int, delim1, delim2 byte) (value string, consumed int) {
	limit := maxChars - 1
	if limit > len(b) {
		limit = len(b)
	}
	i := 0
	for i < limit {
		if b[i] == delim1 || b[i] == delim2 {
			break
		}
		i++
	}
	value = string(b[:i])
	if i < limit {
		consumed = i + 1
	} else {
		consumed = i
	}
	return value, consumed
}

// parseParenWidth returns the integer inside a trailing "(n)" group of a
// format token, or 0 if the token carries no explicit width.
func parseParenWidth(token string) int {
	open := -1
	for i := 0; i < len(token); i++ {
		if token[i] == '(' {
			open = i
			break
		}
	}
	if open < 0 {
		return 0
	}
	close := -1
	for i := open + 1; i < len(token); i++ {
		if token[i] == ')' {
			close = i
			break
		}
	}
	if close < 0 || close == open+1 {
		return 0
	}
	n, err := strconv.Atoi(token[open+1 : close])
	if err != nil {
		return 0
	}
	return n
}
