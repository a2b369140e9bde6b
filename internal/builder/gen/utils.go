package gen

import (
	"os"
	"runtime"
	"strings"
)

func write(sb *strings.Builder, s ...string) {
	for _, str := range s {
		sb.WriteString(str)
	}
}

func writeln(sb *strings.Builder, s ...string) {
	for _, str := range s {
		sb.WriteString(str)
	}
	sb.WriteByte('\n')
}

// shellQuote quotes an argument for the shell ninja runs commands with
func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n\"'\\$`&|;<>()*?[]#~!{}") {
		return s
	}
	if runtime.GOOS == "windows" {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// parseDepFile returns the prerequisites listed in a make-style dependency
// file written by -MMD, the first one being the source itself
func parseDepFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.ReplaceAll(text, "\\\n", " ")

	// "obj: deps", the target may itself contain a drive letter colon
	if i := strings.Index(text, ": "); i >= 0 {
		text = text[i+2:]
	} else if strings.HasSuffix(strings.TrimSpace(text), ":") {
		return nil, nil
	}

	const escapedSpace = "\x00"
	text = strings.ReplaceAll(text, `\ `, escapedSpace)
	var deps []string
	for _, f := range strings.Fields(text) {
		if f == "\\" {
			continue
		}
		deps = append(deps, strings.ReplaceAll(f, escapedSpace, " "))
	}
	return deps, nil
}
