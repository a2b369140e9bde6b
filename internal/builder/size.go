package builder

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/qobs-build/qembed/internal/msg"
)

// ProgramSize is the memory used by a linked program
type ProgramSize struct {
	Flash int64 // text + data
	RAM   int64 // data + bss
}

// parseSizeOutput reads the berkeley format of `size -B -d`:
//
//	text    data     bss     dec     hex filename
//	 924       0       9     933     3a5 firmware.elf
func parseSizeOutput(out string) (ProgramSize, error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return ProgramSize{}, fmt.Errorf("unexpected size output: %q", out)
	}
	fields := strings.Fields(lines[1])
	if len(fields) < 3 {
		return ProgramSize{}, fmt.Errorf("unexpected size output: %q", out)
	}
	var n [3]int64
	for i := range n {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return ProgramSize{}, fmt.Errorf("unexpected size output: %q", out)
		}
		n[i] = v
	}
	return ProgramSize{Flash: n[0] + n[1], RAM: n[1] + n[2]}, nil
}

// usageLine renders "RAM:   [=         ]  12.3% (used 252 bytes from 2048 bytes)"
func usageLine(label string, used, limit int64) string {
	percent := float64(used) / float64(limit)
	blocks := min(max(int(math.Round(percent*10)), 0), 10)
	return fmt.Sprintf("%-7s[%-10s] %5.1f%% (used %d bytes from %d bytes)",
		label+":", strings.Repeat("=", blocks), percent*100, used, limit)
}

// CheckProgramSize compares the size of the linked program with the board
// limits. Failing to run the size tool only warns.
func (cfg *BuildConfig) CheckProgramSize(ctx context.Context, w io.Writer) error {
	if cfg.Board == nil {
		return nil
	}
	maxFlash := cfg.Board.GetInt("upload.maximum_size")
	maxRAM := cfg.Board.GetInt("upload.maximum_ram_size")
	if maxFlash <= 0 && maxRAM <= 0 {
		return nil
	}

	out, err := cfg.Toolchain.command(ctx, cfg.Toolchain.Size, "-B", "-d", cfg.ProgramPath()).Output()
	if err != nil {
		msg.Warn("could not determine program size: %v", err)
		return nil
	}
	size, err := parseSizeOutput(string(out))
	if err != nil {
		msg.Warn("could not determine program size: %v", err)
		return nil
	}

	if maxRAM > 0 {
		fmt.Fprintln(w, usageLine("RAM", size.RAM, maxRAM))
	}
	if maxFlash > 0 {
		fmt.Fprintln(w, usageLine("Flash", size.Flash, maxFlash))
	}

	if maxRAM > 0 && size.RAM > maxRAM {
		return fmt.Errorf("the data size (%d bytes) is greater than maximum allowed (%d bytes)", size.RAM, maxRAM)
	}
	if maxFlash > 0 && size.Flash > maxFlash {
		return fmt.Errorf("the program size (%d bytes) is greater than maximum allowed (%d bytes)", size.Flash, maxFlash)
	}
	return nil
}
