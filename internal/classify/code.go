package classify

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var strongKeywords = []string{
	"function ", "def ", "class ", "import ", "from ", "using ",
	"namespace ", "public ", "private ", "protected ", "static ",
	"const ", "let ", "var ", "async ", "await ", "return ",
	"if (", "for (", "while (", "switch (", "try {", "catch (",
	"print(", "println(", "console.log", "system.out",
}

var commonWords = []string{
	" para ", " con ", " que ", " the ", " and ", " for ", " with ", " is a ", " to ",
}

var (
	callPattern      = regexp.MustCompile(`\w+\s*\([^)]*\)`)
	semicolonPattern = regexp.MustCompile(`(?m);\s*$`)
	operatorPattern  = regexp.MustCompile(`[=<>!]+|&&|\|\||->|=>|\+=|-=|\*=|/=`)
	proseRunPattern  = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(?:[a-zA-ZáéíóúñÁÉÍÓÚÑ]{4,}\s+){5,}`)
)

// CodeScore holds the positive and negative evidence gathered by IsCode.
type CodeScore struct {
	Code int
	Anti int
}

// ScoreCode weighs code-like signals against natural-language signals.
func ScoreCode(text string) CodeScore {
	var s CodeScore
	lower := strings.ToLower(text)

	for _, kw := range strongKeywords {
		if strings.Contains(lower, kw) {
			s.Code += 4
			break
		}
	}

	if callPattern.MatchString(text) {
		s.Code += 3
	}

	open, closed := strings.Count(text, "{"), strings.Count(text, "}")
	switch {
	case open >= 2 && closed >= 2:
		s.Code += 2
	case open >= 1 && closed >= 1:
		s.Code++
	}

	switch n := len(semicolonPattern.FindAllStringIndex(text, -1)); {
	case n >= 2:
		s.Code += 2
	case n == 1:
		s.Code++
	}

	if lines := strings.Split(text, "\n"); len(lines) >= 3 {
		indented := 0
		for _, l := range lines {
			if strings.HasPrefix(l, "    ") || strings.HasPrefix(l, "\t") {
				indented++
			}
		}
		if indented >= 3 {
			s.Code += 2
		}
	}

	switch n := len(operatorPattern.FindAllStringIndex(text, -1)); {
	case n >= 3:
		s.Code += 2
	case n >= 1:
		s.Code++
	}

	if proseRunPattern.MatchString(text) {
		s.Anti += 3
	}

	punct := strings.Count(text, ".") + strings.Count(text, ",") +
		strings.Count(text, "?") + strings.Count(text, "!")
	if float64(punct) > float64(utf8.RuneCountInString(text))*0.05 {
		s.Anti += 2
	}

	first, _ := utf8.DecodeRuneInString(text)
	if unicode.IsUpper(first) && (strings.HasSuffix(text, ".") || strings.HasSuffix(text, ":")) &&
		!strings.Contains(text, "(") {
		s.Anti += 2
	}

	common := 0
	for _, w := range commonWords {
		if strings.Contains(lower, w) {
			common++
		}
	}
	if common >= 3 {
		s.Anti += 2
	}
	return s
}

// IsCode is the heuristic code detector. Short snippets (<50 chars) need a
// net score of 2; longer text needs 4 and must beat 1.5x the negative score.
func IsCode(text string) bool {
	text = strings.TrimSpace(text)
	length := utf8.RuneCountInString(text)
	if length < 5 {
		return false
	}

	// Long single-line prose.
	if length > 100 && !strings.Contains(text, "\n") {
		words := strings.Fields(text)
		natural := 0
		for _, w := range words {
			if utf8.RuneCountInString(w) > 3 && !strings.ContainsAny(w, "({") {
				natural++
			}
		}
		if float64(natural) > float64(len(words))*0.7 {
			return false
		}
	}

	s := ScoreCode(text)
	if length < 50 {
		return s.Code >= 2 && s.Code > s.Anti
	}
	return s.Code >= 4 && float64(s.Code) > float64(s.Anti)*1.5
}
