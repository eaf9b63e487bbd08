package overlay

import "strings"

const (
	colorChar    = '§'
	altColorChar = '&'
	colorCodes   = "0123456789AaBbCcDdEeFfKkLlMmNnOoRrXx"
)

// TranslateColorCodes rewrites "&c"-style codes into section-sign codes.
// An '&' not followed by a valid code is kept as is.
func TranslateColorCodes(s string) string {
	if !strings.ContainsRune(s, altColorChar) {
		return s
	}
	rs := []rune(s)
	for i := 0; i < len(rs)-1; i++ {
		if rs[i] == altColorChar && strings.ContainsRune(colorCodes, rs[i+1]) {
			rs[i] = colorChar
			rs[i+1] = []rune(strings.ToLower(string(rs[i+1])))[0]
		}
	}
	return string(rs)
}
