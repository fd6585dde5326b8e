package toolparse

import (
	"regexp"
	"sort"
	"strings"
)

// DetectedPythonCode is a span of model output recognized as executable
// Python, for the CodeMode tool format.
type DetectedPythonCode struct {
	Code           string
	Start          int
	End            int
	ExplicitPython bool
}

var (
	explicitPythonFenceRe = regexp.MustCompile("(?s)```(?:python|py)\\s*\\n(.*?)```")
	genericFenceRe        = regexp.MustCompile("(?s)```[A-Za-z]*\\s*\\n(.*?)```")
	triggerPhraseRe       = regexp.MustCompile(`(?i)(?:here'?s the code:|execute this:|run this:)\s*\n((?:[ \t]+.+\n?)+)`)
)

var (
	pythonPositiveRe = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*import\s+\w+`),
		regexp.MustCompile(`(?m)^\s*from\s+\w+\s+import\b`),
		regexp.MustCompile(`(?m)^\s*def\s+\w+\s*\(`),
		regexp.MustCompile(`(?m)^\s*class\s+\w+`),
		regexp.MustCompile(`\bprint\s*\(`),
		regexp.MustCompile(`(?m)^\s*if\s+.+:\s*$`),
		regexp.MustCompile(`(?m)^\s*for\s+\w+\s+in\s+.+:\s*$`),
		regexp.MustCompile(`(?m)^\s*while\s+.+:\s*$`),
		regexp.MustCompile(`(?m)^\s*elif\s+.+:\s*$`),
		regexp.MustCompile(`(?m)^\s*except\b.*:\s*$`),
		regexp.MustCompile(`(?m)^\s*with\s+.+:\s*$`),
		regexp.MustCompile(`\[[^\]]+\s+for\s+\w+\s+in\s+[^\]]+\]`),
		regexp.MustCompile(`f["'].*\{.*\}.*["']`),
		regexp.MustCompile(`(?m)^\s*#.*$`),
	}

	pythonNegativeRe = []*regexp.Regexp{
		regexp.MustCompile(`(?m)^\s*(?:const|let|var)\s+\w+\s*=`),
		regexp.MustCompile(`(?m)^\s*function\s+\w+\s*\(`),
		regexp.MustCompile(`=>\s*\{`),
		regexp.MustCompile(`(?m)^\s*fn\s+\w+\s*\(`),
		regexp.MustCompile(`(?m)^\s*(?:pub\s+)?struct\s+\w+`),
		regexp.MustCompile(`(?m)^\s*impl\b`),
		regexp.MustCompile(`(?m)^\s*#include\s*[<"]`),
		regexp.MustCompile(`(?m)^\s*(?:int|void|char|double|float)\s+\w+\s*\(`),
		regexp.MustCompile(`(?i)(?m)^\s*SELECT\s+.+\s+FROM\s+`),
		regexp.MustCompile(`(?m)^\s*\$\w+`),
		regexp.MustCompile(`(?m)^\s*(?:echo|export)\s+`),
	}

	simpleAssignRe = regexp.MustCompile(`(?m)^\s*\w+\s*=\s*.+$`)
)

// looksLikePython classifies a candidate code block: true if any positive
// signal matches and no negative signal does, with a last-ditch heuristic
// for trivially short var = expr snippets.
func looksLikePython(code string) bool {
	for _, re := range pythonNegativeRe {
		if re.MatchString(code) {
			return false
		}
	}
	for _, re := range pythonPositiveRe {
		if re.MatchString(code) {
			return true
		}
	}
	lines := strings.Split(strings.TrimSpace(code), "\n")
	if len(lines) <= 3 {
		for _, l := range lines {
			if simpleAssignRe.MatchString(l) {
				return true
			}
		}
	}
	return false
}

// dedentCode strips the minimum common leading whitespace from every
// non-blank line.
func dedentCode(code string) string {
	lines := strings.Split(code, "\n")
	minIndent := -1
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		indent := len(l) - len(strings.TrimLeft(l, " \t"))
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return code
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		if len(l) >= minIndent {
			out[i] = l[minIndent:]
		} else {
			out[i] = strings.TrimLeft(l, " \t")
		}
	}
	return strings.Join(out, "\n")
}

// DetectPythonCode finds every span of content that looks like Python code,
// trying explicit ```python fences, then generic fences filtered through
// looksLikePython, then indented code following a trigger phrase like
// "execute this:". Overlapping later matches are skipped.
func DetectPythonCode(content string) []DetectedPythonCode {
	var found []DetectedPythonCode

	for _, m := range explicitPythonFenceRe.FindAllStringSubmatchIndex(content, -1) {
		found = append(found, DetectedPythonCode{
			Code:           strings.TrimSpace(content[m[2]:m[3]]),
			Start:          m[0],
			End:            m[1],
			ExplicitPython: true,
		})
	}

	for _, m := range genericFenceRe.FindAllStringSubmatchIndex(content, -1) {
		code := strings.TrimSpace(content[m[2]:m[3]])
		if looksLikePython(code) {
			found = append(found, DetectedPythonCode{
				Code:           code,
				Start:          m[0],
				End:            m[1],
				ExplicitPython: false,
			})
		}
	}

	for _, m := range triggerPhraseRe.FindAllStringSubmatchIndex(content, -1) {
		code := dedentCode(content[m[2]:m[3]])
		if strings.TrimSpace(code) != "" {
			found = append(found, DetectedPythonCode{
				Code:           strings.TrimSpace(code),
				Start:          m[0],
				End:            m[1],
				ExplicitPython: false,
			})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Start < found[j].Start })

	var result []DetectedPythonCode
	lastEnd := -1
	for _, d := range found {
		if d.Start < lastEnd {
			continue
		}
		result = append(result, d)
		lastEnd = d.End
	}
	return result
}
