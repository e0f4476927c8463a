package categorize

import (
	"regexp"
	"strings"
)

var nonLetters = regexp.MustCompile(`[^a-z\s]`)

// stopWords is the common English stop word list
var stopWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again against all am an and any are as at be because been
		before being below between both but by can could did do does doing down during
		each few for from further had has have having he her here hers herself him
		himself his how i if in into is it its itself just me more most my myself no
		nor not now of off on once only or other our ours ourselves out over own same
		she should so some such than that the their theirs them themselves then there
		these they this those through to too under until up very was we were what when
		where which while who whom why will with you your yours yourself yourselves`) {
		stopWords[w] = true
	}
}

// Tokens turns an expense description and merchant name into classifier
// features: lower-cased words of three or more letters without stop words,
// followed by the bigrams of adjacent words.
func Tokens(description, merchant string) []string {
	text := description
	if merchant != "" {
		text += " " + merchant
	}
	text = nonLetters.ReplaceAllString(strings.ToLower(text), "")

	words := make([]string, 0)
	for _, w := range strings.Fields(text) {
		if len(w) <= 2 || stopWords[w] {
			continue
		}
		words = append(words, w)
	}

	tokens := make([]string, 0, 2*len(words))
	tokens = append(tokens, words...)
	for i := 1; i < len(words); i++ {
		tokens = append(tokens, words[i-1]+" "+words[i])
	}
	return tokens
}
