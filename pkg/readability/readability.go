package readability

import (
	"strings"
	"unicode"
)

// GradeLevel estimates the Flesch-Kincaid reading grade of the text.
// Empty text scores zero.
func GradeLevel(text string) float64 {
	words := Words(text)
	if len(words) == 0 {
		return 0
	}
	sentences := Sentences(text)
	if sentences == 0 {
		sentences = 1
	}

	syllables := 0
	for _, w := range words {
		syllables += Syllables(w)
	}

	grade := 0.39*(float64(len(words))/float64(sentences)) +
		11.8*(float64(syllables)/float64(len(words))) - 15.59
	if grade < 0 {
		return 0
	}
	return grade
}

// Words splits the text into alphanumeric word tokens.
func Words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

// Sentences counts sentence terminators. Consecutive terminators count once.
func Sentences(text string) int {
	count := 0
	inTerminator := false
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			if !inTerminator {
				count++
			}
			inTerminator = true
		default:
			inTerminator = false
		}
	}
	return count
}

// Syllables estimates the syllable count of one word by counting vowel
// groups, with a silent-e adjustment. Every word has at least one.
func Syllables(word string) int {
	w := strings.ToLower(word)
	count := 0
	prevVowel := false
	for _, r := range w {
		v := isVowel(r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}
	if strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") && count > 1 {
		count--
	}
	if count < 1 {
		count = 1
	}
	return count
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}
