// Package classify decides the coarse type of a clipboard payload.
//
// Every check is a pure function guarded by a length limit, so classification
// cost stays bounded no matter how large the payload is.
package classify

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"clipmind/internal/db"
)

const (
	maxURLLen      = 2048
	maxEmailLen    = 254
	maxPhoneLen    = 20
	maxPathLen     = 4096
	maxCommandLen  = 500
	minSniffLength = 4
)

var (
	urlPattern     = regexp.MustCompile(`(?i)^https?://(www\.)?[-a-zA-Z0-9@:%._\+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b([-a-zA-Z0-9()@:%_\+.~#?&/=]*)$`)
	emailPattern   = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern   = regexp.MustCompile(`^[\+]?[(]?[0-9]{1,4}[)]?[-\s\.]?[(]?[0-9]{1,4}[)]?[-\s\.]?[0-9]{1,9}$`)
	winPathPattern = regexp.MustCompile(`^[a-zA-Z]:\\`)
	extPattern     = regexp.MustCompile(`\.[a-zA-Z0-9]{1,10}$`)

	commandShapePattern = regexp.MustCompile(`^[a-z0-9\-_]+\s+(--?[a-z0-9\-]+|\S+)`)
	promptPattern       = regexp.MustCompile(`^[~/\w\-\.]+[\$#>❯]\s+`)

	flagPattern    = regexp.MustCompile(`(?:^|\s)--?[A-Za-z0-9][\w\-]*`)
	pathArgPattern = regexp.MustCompile(`(?:^|\s)(?:~|\.{1,2})?/`)
	shellOpPattern = regexp.MustCompile(`\||&&|;|>|<|\$\(|\$\{?[A-Za-z_]|` + "`" + `|\b[A-Za-z_][A-Za-z0-9_]*=\S`)
)

var imageMagic = [][]byte{
	{0x89, 0x50, 0x4E, 0x47}, // PNG
	{0xFF, 0xD8, 0xFF},       // JPEG
	{0x47, 0x49, 0x46},       // GIF
	{0x42, 0x4D},             // BMP
}

// commonCommands are command prefixes that mark a line as a shell command.
var commonCommands = []string{
	"cd ", "ls ", "pwd", "mkdir ", "rm ", "cp ", "mv ", "cat ", "grep ",
	"find ", "chmod ", "chown ", "sudo ", "apt ", "pacman ", "dnf ",
	"git ", "docker ", "npm ", "yarn ", "dotnet ", "python ", "node ",
	"cargo ", "go ", "make ", "cmake ", "ninja ", "gcc ", "g++",
	"echo ", "export ", "source ", "bash ", "sh ", "zsh ",
	"ssh ", "scp ", "curl ", "wget ", "kubectl ", "systemctl ", "tar ",
}

// Classify returns the content type of a raw payload. mimeHint may be empty.
func Classify(content []byte, mimeHint string) db.ContentType {
	if IsImage(content, mimeHint) {
		return db.TypeImage
	}
	if !utf8.Valid(content) {
		return db.TypeText
	}
	text := string(content)

	switch {
	case IsURL(text):
		return db.TypeURL
	case IsEmail(text):
		return db.TypeEmail
	case IsPhone(text):
		return db.TypePhone
	case IsFilePath(text):
		return db.TypeFilePath
	case IsTerminalCommand(text):
		return db.TypeCode
	case IsCode(text):
		return db.TypeCode
	case IsRichText(text, mimeHint):
		return db.TypeRichText
	}
	return db.TypeText
}

// IsImage sniffs the mime hint and the PNG, JPEG, GIF and BMP magic numbers.
func IsImage(content []byte, mimeHint string) bool {
	if strings.HasPrefix(strings.ToLower(mimeHint), "image/") {
		return true
	}
	if len(content) < minSniffLength {
		return false
	}
	for _, magic := range imageMagic {
		if bytes.HasPrefix(content, magic) {
			return true
		}
	}
	return false
}

func singleLine(text string, limit int) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" || utf8.RuneCountInString(text) > limit || strings.ContainsAny(text, "\r\n") {
		return "", false
	}
	return text, true
}

func IsURL(text string) bool {
	t, ok := singleLine(text, maxURLLen)
	return ok && urlPattern.MatchString(t)
}

func IsEmail(text string) bool {
	t, ok := singleLine(text, maxEmailLen)
	return ok && emailPattern.MatchString(t)
}

func IsPhone(text string) bool {
	t, ok := singleLine(text, maxPhoneLen)
	return ok && phonePattern.MatchString(t)
}

// IsFilePath matches absolute Unix paths, Windows drive paths and relative
// paths that end in a file extension.
func IsFilePath(text string) bool {
	t, ok := singleLine(text, maxPathLen)
	if !ok {
		return false
	}
	if strings.HasPrefix(t, "/") || winPathPattern.MatchString(t) {
		return true
	}
	return strings.Contains(t, "/") && strings.Contains(t, ".") && extPattern.MatchString(t)
}

// IsKnownCommand reports whether text starts with a common shell command or a
// shell prompt.
func IsKnownCommand(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" || utf8.RuneCountInString(t) > maxCommandLen {
		return false
	}
	lower := strings.ToLower(t)
	for _, cmd := range commonCommands {
		if strings.HasPrefix(lower, cmd) {
			return true
		}
	}
	return promptPattern.MatchString(t)
}

// IsShellCommand is the strict form of IsKnownCommand: besides the command
// prefix the line needs shell syntax (a flag, a path argument, an operator or
// a variable) or a prompt, and must not open like a sentence. "git log
// --oneline" qualifies, "Make sure you call the dentist" does not.
func IsShellCommand(text string) bool {
	t := strings.TrimSpace(text)
	if !IsKnownCommand(t) {
		return false
	}
	if promptPattern.MatchString(t) {
		return true
	}
	first, _ := utf8.DecodeRuneInString(t)
	if unicode.IsUpper(first) {
		return false
	}
	return flagPattern.MatchString(t) || pathArgPattern.MatchString(t) || shellOpPattern.MatchString(t)
}

// IsTerminalCommand extends IsKnownCommand with the generic
// "token (flag|token)" command shape.
func IsTerminalCommand(text string) bool {
	if IsKnownCommand(text) {
		return true
	}
	t := strings.TrimSpace(text)
	if t == "" || utf8.RuneCountInString(t) > maxCommandLen {
		return false
	}
	return commandShapePattern.MatchString(t)
}

// IsRichText detects HTML and RTF by mime hint or document markers.
func IsRichText(text, mimeHint string) bool {
	mime := strings.ToLower(mimeHint)
	if strings.Contains(mime, "html") || strings.Contains(mime, "rtf") {
		return true
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "<html") || strings.Contains(lower, "<!doctype") {
		return true
	}
	return strings.HasPrefix(lower, `{\rtf`)
}
