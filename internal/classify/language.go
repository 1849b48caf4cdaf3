package classify

import (
	"sort"
	"strings"
)

// languagePatterns are phrases whose presence hints at a programming language.
var languagePatterns = map[string][]string{
	"csharp": {
		"using System", "namespace ", "public class", "private ", "protected ",
		"void ", "async ", "await ", "var ", "string ", "int ", "Console.WriteLine",
		"public static void Main", "get; set;", "=> ",
	},
	"python": {
		"def ", "import ", "from ", "class ", "if __name__", "print(", "self.",
		"elif ", "range(", "len(", "str(", "int(", "list(", "dict(", "True", "False", "None",
	},
	"javascript": {
		"function ", "const ", "let ", "var ", "=>", "console.log", "require(",
		"module.exports", "export ", "import ", "document.", "window.", "async function",
	},
	"typescript": {
		"interface ", "type ", ": string", ": number", ": boolean", "export ",
		"import ", "const ", "let ", "function ", "async ", "Promise<",
	},
	"java": {
		"public class", "private ", "protected ", "import java.", "System.out",
		"public static void main", "String[] args", "new ", "extends ", "implements ",
		"ArrayList", "HashMap",
	},
	"cpp": {
		"#include", "std::", "cout", "cin", "namespace ", "template<",
		"vector<", "map<", "using namespace", "endl", "::", "nullptr",
	},
	"c": {
		"#include <stdio.h>", "#include <stdlib.h>", "printf(", "scanf(",
		"malloc(", "free(", "int main(", "void ", "struct ", "typedef ",
	},
	"rust": {
		"fn ", "let ", "mut ", "impl ", "use ", "pub ", "match ",
		"println!(", "Vec<", "String::", "Option<", "Result<", "&str", "-> ",
	},
	"go": {
		"package ", "func ", "import ", "type ", "var ", "defer ", "go ",
		"fmt.Print", "make(", "chan ", "interface{}", ":= ",
	},
	"kotlin": {
		"fun ", "val ", "var ", "data class", "sealed class", "object ",
		"companion object", "when ", "?.let", "listOf(", "mutableListOf(",
	},
	"sql": {
		"SELECT ", "FROM ", "WHERE ", "INSERT ", "UPDATE ", "DELETE ",
		"CREATE TABLE", "JOIN ", "GROUP BY", "ORDER BY", "HAVING ",
	},
	"html": {
		"<!DOCTYPE", "<html", "<head", "<body", "<div", "<span", "<script",
		"</html>", "</body>", "<meta", "<link", "<style",
	},
	"css": {
		"display:", "background:", "color:", "margin:", "padding:", "border:",
		"flex", "grid", "@media", "px", "rem", "vh", "vw",
	},
	"json": {
		`":`, `",`, "null", "true", "false", "[", "]", "{", "}",
	},
	"xml": {
		"<?xml", "xmlns", "<", "/>", "</", "version=", "encoding=",
	},
	"bash": {
		"#!/bin/bash", "echo ", "if [", "then", "fi", "for ", "done",
		"export ", "$", "chmod ", "grep ", "awk ",
	},
	"php": {
		"<?php", "function ", "class ", "public ", "private ", "$",
		"echo ", "->", "=>", "namespace ", "use ",
	},
	"ruby": {
		"def ", "end", "class ", "module ", "puts ", "attr_accessor",
		"do |", "each ", "map ", "select ", "@",
	},
	"swift": {
		"import Foundation", "func ", "let ", "var ", "class ", "struct ",
		"guard ", "if let", "switch ", "case ", "enum ", ": String", ": Int",
	},
	"vue": {
		"<template>", "</template>", "<script>", "export default", "data()",
		"methods:", "computed:", "v-if=", "v-for=", "@click=", "{{ ",
	},
	"react": {
		"import React", "useState", "useEffect", "useContext", "export default",
		"return (", "className=", "onClick={", "props.", "JSX",
	},
}

// LanguageScore is the number of distinct pattern hits for one language.
type LanguageScore struct {
	Language string
	Hits     int
}

// ScoreLanguages counts pattern hits per language, best first. Languages
// with no hits are omitted.
func ScoreLanguages(text string) []LanguageScore {
	var scores []LanguageScore
	for lang, patterns := range languagePatterns {
		hits := 0
		for _, p := range patterns {
			if strings.Contains(text, p) {
				hits++
			}
		}
		if hits > 0 {
			scores = append(scores, LanguageScore{Language: lang, Hits: hits})
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Hits != scores[j].Hits {
			return scores[i].Hits > scores[j].Hits
		}
		return scores[i].Language < scores[j].Language
	})
	return scores
}

// GuessLanguage returns the language with the most pattern hits. A tie for
// first place, or no hits at all, yields ok=false.
func GuessLanguage(text string) (lang string, hits int, ok bool) {
	scores := ScoreLanguages(text)
	if len(scores) == 0 {
		return "", 0, false
	}
	if len(scores) > 1 && scores[0].Hits == scores[1].Hits {
		return "", 0, false
	}
	return scores[0].Language, scores[0].Hits, true
}
