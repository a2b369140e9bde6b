package platform

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
)

// Summary writes the configuration banner printed before a build:
//
//	CONFIGURATION: https://...
//	PLATFORM: Atmel AVR 1.0.0 > Arduino Uno
//	HARDWARE: ATMEGA328P 16MHz, 2KB RAM, 31.50KB Flash
//	DEBUG: Current (simavr) On-board (simavr)
//	PACKAGES: toolchain-atmelavr 1.70300.191015 (7.3.0)
//
// board may be nil, lines without data are skipped
func Summary(w io.Writer, p *Platform, board *Board, debugTool string) {
	var lines [][]string

	if board != nil && board.URL != "" {
		lines = append(lines, []string{"CONFIGURATION:", board.URL})
	}

	plat := []string{"PLATFORM:", p.DisplayTitle() + " " + p.Version}
	if board != nil {
		plat = append(plat, ">", board.Name)
	}
	lines = append(lines, plat)

	if board != nil {
		hw := []string{"HARDWARE:"}
		if mcu := board.GetString("build.mcu"); mcu != "" {
			hw = append(hw, strings.ToUpper(mcu))
		}
		if fcpu := digitsOnly(board.GetString("build.f_cpu")); fcpu > 0 {
			hw = append(hw, fmt.Sprintf("%dMHz,", fcpu/1000000))
		}
		hw = append(hw, fmt.Sprintf("%s RAM, %s Flash",
			FormatFileSize(board.GetInt("upload.maximum_ram_size")),
			FormatFileSize(board.GetInt("upload.maximum_size"))))
		lines = append(lines, hw)

		if tools := board.DebugTools(); len(tools) > 0 {
			dbg := []string{"DEBUG:", "Current", "(" + board.DebugToolName(debugTool) + ")"}
			var onboard, external []string
			for _, name := range slices.Sorted(maps.Keys(tools)) {
				if tools[name] {
					onboard = append(onboard, name)
				} else {
					external = append(external, name)
				}
			}
			if len(onboard) > 0 {
				dbg = append(dbg, "On-board", "("+strings.Join(onboard, ", ")+")")
			}
			if len(external) > 0 {
				dbg = append(dbg, "External", "("+strings.Join(external, ", ")+")")
			}
			lines = append(lines, dbg)
		}
	}

	var pkgs []string
	for _, pkg := range p.InstalledPackages() {
		if p.Packages[pkg.Name].Optional {
			continue
		}
		info := pkg.Name + " " + pkg.Version
		if orig := OriginalVersion(pkg.Version); orig != "" {
			info += " (" + orig + ")"
		}
		pkgs = append(pkgs, info)
	}
	lines = append(lines, []string{"PACKAGES:", strings.Join(pkgs, ", ")})

	for _, line := range lines {
		if len(line) > 1 && line[len(line)-1] != "" {
			fmt.Fprintln(w, strings.Join(line, " "))
		}
	}
}

func digitsOnly(s string) int64 {
	var n int64
	for _, c := range s {
		if c >= '0' && c <= '9' {
			n = n*10 + int64(c-'0')
		}
	}
	return n
}

// FormatFileSize renders a byte count the way board specs are usually
// written: 2048 -> 2KB, 32256 -> 31.50KB, 512 -> 512B
func FormatFileSize(size int64) string {
	const base = 1024
	f := float64(size)
	if f < base {
		return fmt.Sprintf("%dB", size)
	}
	suffixes := "KMGTPEZY"
	unit := float64(base)
	for i, suffix := range suffixes {
		unit = pow(base, i+2)
		if f >= unit {
			continue
		}
		if size%int64(pow(base, i+1)) != 0 {
			return fmt.Sprintf("%.2f%cB", base*f/unit, suffix)
		}
		return fmt.Sprintf("%d%cB", int64(base*f/unit), suffix)
	}
	return fmt.Sprintf("%d%cB", int64(base*f/unit), suffixes[len(suffixes)-1])
}

func pow(base float64, exp int) float64 {
	r := 1.0
	for range exp {
		r *= base
	}
	return r
}
