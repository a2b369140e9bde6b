package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the tool version reported by the CLI and the home server
const Version = "0.3.0"

// Macro returns the integer form of a version used for the QEMBED define:
// 0.3.0 -> 300, 1.2.13 -> 10213
func Macro(v string) int {
	var parts [3]int
	for i, p := range strings.SplitN(v, ".", 3) {
		// strip pre-release suffixes like "1-beta"
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		n, _ := strconv.Atoi(p[:end])
		parts[i] = n
	}
	s := fmt.Sprintf("%02d%02d%02d", parts[0], parts[1], parts[2])
	n, _ := strconv.Atoi(s)
	return n
}
