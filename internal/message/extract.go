package message

import (
	"regexp"
	"strconv"
)

var priceToken = regexp.MustCompile(`[-+]?\d*\.*\d+`)

// ExtractPrice parses the first numeric token in text. Tokens such as "1..5"
// match the pattern but do not parse and yield false.
func ExtractPrice(text string) (float64, bool) {
	token := priceToken.FindString(text)
	if token == "" {
		return 0, false
	}
	price, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}
