// Package text prepares user supplied text for a speech model.
//
// Models read numbers, abbreviations and typographic punctuation
// inconsistently, so text is reduced to a plain, speakable form before it is
// handed to a synthesizer.
package text

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	baseTen      = 10
	baseTwenty   = 20
	baseHundred  = 100
	baseThousand = 1000

	// MaxSpelledNumber is the largest integer spelled out as words.
	MaxSpelledNumber = 999999
)

const (
	urlPattern        = `https?://\S+`
	emailPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	numberPattern     = `\b\d+\b`
	referencePattern  = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	whitespacePattern = `\s+`

	tokenPlaceholder = "zqtoken%dqz"
	closingMarks     = `"')]`
	keptMarks        = `."'()[]`
)

// Options toggles the optional normalization steps.
type Options struct {
	SpellNumbers bool
}

// Normalizer rewrites text into a form suited for synthesis.
type Normalizer struct {
	options Options

	urlRegex        *regexp.Regexp
	emailRegex      *regexp.Regexp
	numberRegex     *regexp.Regexp
	referenceRegex  *regexp.Regexp
	whitespaceRegex *regexp.Regexp

	abbreviations *strings.Replacer
	typography    *strings.Replacer
	words         *numberWords
}

// NewNormalizer compiles the patterns once; a Normalizer is safe for
// concurrent use.
func NewNormalizer(options Options) *Normalizer {
	return &Normalizer{
		options:         options,
		urlRegex:        regexp.MustCompile(urlPattern),
		emailRegex:      regexp.MustCompile(emailPattern),
		numberRegex:     regexp.MustCompile(numberPattern),
		referenceRegex:  regexp.MustCompile(referencePattern),
		whitespaceRegex: regexp.MustCompile(whitespacePattern),
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Ms.", "Miss",
			"Dr.", "Doctor",
			"St.", "Saint",
			"Prof.", "Professor",
			"Jr.", "Junior",
			"Sr.", "Senior",
			"etc.", "et cetera",
			"e.g.", "for example",
			"i.e.", "that is",
		),
		typography: strings.NewReplacer(
			"—", " - ",
			"–", "-",
			"‒", "-",
			"…", "...",
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			" ", " ",
		),
		words: newNumberWords(),
	}
}

// Normalize returns the speakable form of input. Empty or blank input yields
// an empty string.
func (n *Normalizer) Normalize(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}

	protected, tokens := n.protectTokens(input)

	result := n.typography.Replace(protected)
	result = n.abbreviations.Replace(result)
	result = n.referenceRegex.ReplaceAllString(result, "")

	if n.options.SpellNumbers {
		result = n.spellNumbers(result)
	}

	result = n.whitespaceRegex.ReplaceAllString(result, " ")
	result = collapsePunctuation(strings.TrimSpace(result))
	result = n.restoreTokens(result, tokens)

	return terminateSentence(result)
}

// protectTokens swaps URLs and e-mail addresses for placeholders so the
// later steps leave them intact.
func (n *Normalizer) protectTokens(input string) (string, []string) {
	var tokens []string

	replace := func(match string) string {
		placeholder := fmt.Sprintf(tokenPlaceholder, len(tokens))
		tokens = append(tokens, match)

		return placeholder
	}

	output := n.urlRegex.ReplaceAllStringFunc(input, replace)
	output = n.emailRegex.ReplaceAllStringFunc(output, replace)

	return output, tokens
}

func (n *Normalizer) restoreTokens(input string, tokens []string) string {
	for index := len(tokens) - 1; index >= 0; index-- {
		input = strings.ReplaceAll(input, fmt.Sprintf(tokenPlaceholder, index), tokens[index])
	}

	return input
}

func (n *Normalizer) spellNumbers(input string) string {
	return n.numberRegex.ReplaceAllStringFunc(input, func(match string) string {
		number, err := strconv.Atoi(match)
		if err != nil || number > MaxSpelledNumber {
			return match
		}

		return n.words.spell(number)
	})
}

// collapsePunctuation keeps the first mark of every run of punctuation.
// Dots (kept as an ellipsis), quotes and brackets are never dropped.
func collapsePunctuation(input string) string {
	var builder strings.Builder

	builder.Grow(len(input))

	var previous rune

	for _, char := range input {
		if unicode.IsPunct(char) && unicode.IsPunct(previous) && !strings.ContainsRune(keptMarks, char) {
			continue
		}

		builder.WriteRune(char)

		previous = char
	}

	return builder.String()
}

// terminateSentence ensures the text ends with '.', '!' or '?', looking past
// closing quotes and brackets.
func terminateSentence(input string) string {
	trimmed := strings.TrimSpace(input)
	body := strings.TrimRight(trimmed, closingMarks)

	if body == "" {
		return trimmed
	}

	closing := trimmed[len(body):]

	last, _ := utf8.DecodeLastRuneInString(body)
	switch last {
	case '.', '!', '?':
		return trimmed
	case ',', ';', ':', '-':
		return strings.TrimRight(body, ",;:- ") + "." + closing
	default:
		return trimmed + "."
	}
}

type numberWords struct {
	ones  []string
	teens []string
	tens  []string
}

func newNumberWords() *numberWords {
	return &numberWords{
		ones: []string{
			"", "one", "two", "three", "four", "five",
			"six", "seven", "eight", "nine",
		},
		teens: []string{
			"ten", "eleven", "twelve", "thirteen", "fourteen",
			"fifteen", "sixteen", "seventeen", "eighteen", "nineteen",
		},
		tens: []string{
			"", "", "twenty", "thirty", "forty", "fifty",
			"sixty", "seventy", "eighty", "ninety",
		},
	}
}

func (w *numberWords) spell(number int) string {
	if number == 0 {
		return "zero"
	}

	var parts []string

	if thousands := number / baseThousand; thousands > 0 {
		parts = append(parts, w.underThousand(thousands)+" thousand")
	}

	if remainder := number % baseThousand; remainder > 0 {
		parts = append(parts, w.underThousand(remainder))
	}

	return strings.Join(parts, " ")
}

func (w *numberWords) underThousand(number int) string {
	hundreds := number / baseHundred
	remainder := number % baseHundred

	switch {
	case hundreds == 0:
		return w.underHundred(remainder)
	case remainder == 0:
		return w.ones[hundreds] + " hundred"
	default:
		return w.ones[hundreds] + " hundred " + w.underHundred(remainder)
	}
}

func (w *numberWords) underHundred(number int) string {
	switch {
	case number < baseTen:
		return w.ones[number]
	case number < baseTwenty:
		return w.teens[number-baseTen]
	case number%baseTen == 0:
		return w.tens[number/baseTen]
	default:
		return w.tens[number/baseTen] + " " + w.ones[number%baseTen]
	}
}
