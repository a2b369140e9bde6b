package device

import (
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"golang.org/x/text/encoding/charmap"
)

// Codec converts between port bytes and console text. Decode may keep an
// incomplete trailing sequence for the next call.
type Codec interface {
	Decode(b []byte) string
	Encode(s string) []byte
}

// NewCodec returns the codec for an encoding name: UTF-8, Latin1 or hexlify
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "", "utf8":
		return &utf8Codec{}, nil
	case "latin1", "iso88591":
		return latin1Codec{}, nil
	case "hexlify", "hex":
		return hexCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q (UTF-8, Latin1, hexlify)", name)
	}
}

type utf8Codec struct {
	pending []byte
}

func (c *utf8Codec) Decode(b []byte) string {
	data := append(c.pending, b...)
	c.pending = nil

	// hold back a rune split across reads
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				c.pending = slices.Clone(data[i:])
				data = data[:i]
			}
			break
		}
	}
	return strings.ToValidUTF8(string(data), "�")
}

func (c *utf8Codec) Encode(s string) []byte { return []byte(s) }

type latin1Codec struct{}

func (latin1Codec) Decode(b []byte) string {
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(b)
	return string(out)
}

func (latin1Codec) Encode(s string) []byte {
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if b, ok := charmap.ISO8859_1.EncodeRune(r); ok {
			out = append(out, b)
		} else {
			out = append(out, '?')
		}
	}
	return out
}

// hexCodec shows received bytes as hex pairs and sends typed hex digits as
// bytes, everything else typed is ignored
type hexCodec struct{}

func (hexCodec) Decode(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
		sb.WriteByte(' ')
	}
	return sb.String()
}

func (hexCodec) Encode(s string) []byte {
	digits := strings.Map(func(r rune) rune {
		if strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return r
		}
		return -1
	}, s)
	if len(digits)%2 == 1 {
		digits = digits[:len(digits)-1]
	}
	out, _ := hex.DecodeString(digits)
	return out
}

type rawCodec struct{}

func (rawCodec) Decode(b []byte) string { return string(b) }
func (rawCodec) Encode(s string) []byte { return []byte(s) }

// Transformer rewrites text on its way from the port (Rx), to the port (Tx)
// and to the local echo
type Transformer interface {
	Rx(s string) string
	Tx(s string) string
	Echo(s string) string
}

// Filters lists the transformer names accepted by --filter
var Filters = []string{"default", "direct", "nocontrol", "printable", "colorize", "time"}

// NewFilter returns a transformer by name
func NewFilter(name string) (Transformer, error) {
	switch name {
	case "direct":
		return direct{}, nil
	case "default":
		return replacer(noTerminal), nil
	case "nocontrol":
		return replacer(noControls), nil
	case "printable":
		return printable{}, nil
	case "colorize":
		in := color.New(color.FgWhite)
		in.EnableColor()
		echo := color.New(color.FgRed)
		echo.EnableColor()
		return colorize{in: in, echo: echo}, nil
	case "time":
		return &timestamp{now: time.Now, lineStart: true}, nil
	default:
		return nil, fmt.Errorf("unknown filter %q, available: %s", name, strings.Join(Filters, ", "))
	}
}

type direct struct{}

func (direct) Rx(s string) string   { return s }
func (direct) Tx(s string) string   { return s }
func (direct) Echo(s string) string { return s }

// controlPicture maps a control character to its Unicode control picture
func controlPicture(r rune) rune { return 0x2400 + r }

// noTerminal drops terminal control codes from received text
var noTerminal = strings.NewReplacer(controlReplacements(func(r rune) bool {
	return !strings.ContainsRune("\r\n\b\t", r)
})...)

// noControls replaces every control code, line endings and space included
var noControls = strings.NewReplacer(append(controlReplacements(func(rune) bool { return true }), " ", "␣")...)

func controlReplacements(replace func(rune) bool) []string {
	var pairs []string
	for r := rune(0); r < 32; r++ {
		if replace(r) {
			pairs = append(pairs, string(r), string(controlPicture(r)))
		}
	}
	return append(pairs, "\x7f", "␡", "\u009b", "␥")
}

type replacerFilter struct {
	r *strings.Replacer
}

func replacer(r *strings.Replacer) Transformer { return replacerFilter{r} }

func (f replacerFilter) Rx(s string) string   { return f.r.Replace(s) }
func (f replacerFilter) Tx(s string) string   { return s }
func (f replacerFilter) Echo(s string) string { return f.r.Replace(s) }

// printable shows control codes as control pictures and other non ASCII
// characters as their decimal code in subscript digits
type printable struct{}

func (printable) Rx(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch {
		case (r >= ' ' && r < 0x7f) || strings.ContainsRune("\r\n\b\t", r):
			sb.WriteRune(r)
		case r < ' ':
			sb.WriteRune(controlPicture(r))
		default:
			for _, d := range strconv.Itoa(int(r)) {
				sb.WriteRune(0x2080 + d - '0')
			}
			sb.WriteByte(' ')
		}
	}
	return sb.String()
}

func (printable) Tx(s string) string     { return s }
func (p printable) Echo(s string) string { return p.Rx(s) }

type colorize struct {
	in, echo *color.Color
}

func (c colorize) Rx(s string) string   { return c.in.Sprint(s) }
func (c colorize) Tx(s string) string   { return s }
func (c colorize) Echo(s string) string { return c.echo.Sprint(s) }

// timestamp prefixes every received line with the local time
type timestamp struct {
	now       func() time.Time
	lineStart bool
}

func (t *timestamp) Rx(s string) string {
	if s == "" {
		return s
	}
	var sb strings.Builder
	for _, r := range s {
		if t.lineStart {
			sb.WriteString(t.now().Format("15:04:05.000"))
			sb.WriteString(" > ")
			t.lineStart = false
		}
		sb.WriteRune(r)
		if r == '\n' {
			t.lineStart = true
		}
	}
	return sb.String()
}

func (t *timestamp) Tx(s string) string   { return s }
func (t *timestamp) Echo(s string) string { return s }

// eolFilter translates line endings between the console (\n) and the port
type eolFilter struct {
	mode string
}

// EOL modes
const (
	EOLCR   = "CR"
	EOLLF   = "LF"
	EOLCRLF = "CRLF"
)

func newEOL(mode string) (eolFilter, error) {
	switch strings.ToUpper(mode) {
	case EOLCR, EOLLF, EOLCRLF:
		return eolFilter{mode: strings.ToUpper(mode)}, nil
	default:
		return eolFilter{}, fmt.Errorf("unknown eol mode %q (CR, LF, CRLF)", mode)
	}
}

func (e eolFilter) Rx(s string) string {
	switch e.mode {
	case EOLCR:
		return strings.ReplaceAll(s, "\r", "\n")
	case EOLCRLF:
		return strings.ReplaceAll(s, "\r\n", "\n")
	default:
		return s
	}
}

func (e eolFilter) Tx(s string) string {
	switch e.mode {
	case EOLCR:
		return strings.ReplaceAll(s, "\n", "\r")
	case EOLCRLF:
		return strings.ReplaceAll(s, "\n", "\r\n")
	default:
		return s
	}
}

func (e eolFilter) Echo(s string) string { return s }
