package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.bug.st/serial"
	"golang.org/x/term"
)

// Options configure the serial monitor
type Options struct {
	Port     string
	Baud     int
	Parity   string
	RTSCTS   bool
	XonXoff  bool
	RTS      *int
	DTR      *int
	Echo     bool
	Encoding string
	Filters  []string
	EOL      string
	Raw      bool
	ExitChar int
	MenuChar int
	Quiet    bool
}

// DefaultOptions are the monitor defaults
func DefaultOptions() Options {
	return Options{
		Baud:     9600,
		Parity:   "N",
		Encoding: "UTF-8",
		EOL:      EOLCRLF,
		ExitChar: 3,
		MenuChar: 20,
	}
}

var parities = map[string]serial.Parity{
	"N": serial.NoParity,
	"E": serial.EvenParity,
	"O": serial.OddParity,
	"S": serial.SpaceParity,
	"M": serial.MarkParity,
}

// Mode converts the options to a serial port mode
func (o Options) Mode() (*serial.Mode, error) {
	parity, ok := parities[strings.ToUpper(o.Parity)]
	if !ok {
		return nil, fmt.Errorf("invalid parity %q (N, E, O, S, M)", o.Parity)
	}
	mode := &serial.Mode{
		BaudRate: o.Baud,
		DataBits: 8,
		Parity:   parity,
		StopBits: serial.OneStopBit,
	}
	if o.RTS != nil || o.DTR != nil {
		mode.InitialStatusBits = &serial.ModemOutputBits{
			RTS: o.RTS == nil || *o.RTS == 1,
			DTR: o.DTR == nil || *o.DTR == 1,
		}
	}
	return mode, nil
}

// Port is the part of a serial port the monitor uses
type Port interface {
	io.ReadWriter
	SetRTS(rts bool) error
	SetDTR(dtr bool) error
}

// Session pumps bytes between a port and the console
type Session struct {
	port    Port
	codec   Codec
	filters []Transformer
	out     io.Writer
	status  io.Writer
	mu      sync.Mutex

	exitChar, menuChar rune
	echo, rts, dtr     bool
}

// NewSession prepares a monitor session on an open port. Received text
// goes to out, diagnostics to status.
func NewSession(port Port, opts Options, out, status io.Writer) (*Session, error) {
	s := &Session{
		port:     port,
		out:      out,
		status:   status,
		exitChar: rune(opts.ExitChar),
		menuChar: rune(opts.MenuChar),
		echo:     opts.Echo,
		rts:      opts.RTS == nil || *opts.RTS == 1,
		dtr:      opts.DTR == nil || *opts.DTR == 1,
	}
	if opts.Raw {
		s.codec = rawCodec{}
		return s, nil
	}

	codec, err := NewCodec(opts.Encoding)
	if err != nil {
		return nil, err
	}
	s.codec = codec

	eol, err := newEOL(opts.EOL)
	if err != nil {
		return nil, err
	}
	s.filters = append(s.filters, eol)

	names := opts.Filters
	if len(names) == 0 {
		names = []string{"default"}
	}
	for _, name := range names {
		f, err := NewFilter(name)
		if err != nil {
			return nil, err
		}
		s.filters = append(s.filters, f)
	}
	return s, nil
}

func (s *Session) write(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.out, text)
}

func (s *Session) info(format string, a ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.status, "\r\n--- "+format+" ---\r\n", a...)
}

// receive renders bytes read from the port
func (s *Session) receive(b []byte) string {
	text := s.codec.Decode(b)
	for _, f := range s.filters {
		text = f.Rx(text)
	}
	return text
}

// send writes typed text to the port and echoes it when enabled
func (s *Session) send(text string) error {
	tx := text
	for _, f := range s.filters {
		tx = f.Tx(tx)
	}
	if _, err := s.port.Write(s.codec.Encode(tx)); err != nil {
		return err
	}
	if s.echo {
		echo := text
		for _, f := range s.filters {
			echo = f.Echo(echo)
		}
		s.write(echo)
	}
	return nil
}

// Run pumps data until the exit character is typed, the console reaches
// EOF, the port fails or ctx is done. The caller closes the port.
func (s *Session) Run(ctx context.Context, console io.Reader) error {
	errc := make(chan error, 2)

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				s.write(s.receive(buf[:n]))
			}
			if err != nil {
				errc <- fmt.Errorf("serial port: %w", err)
				return
			}
		}
	}()

	go func() {
		errc <- s.readConsole(bufio.NewReader(console))
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

var errExit = errors.New("exit")

func (s *Session) readConsole(r *bufio.Reader) error {
	menu := false
	for {
		c, _, err := r.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if menu {
			menu = false
			err = s.handleMenuKey(c)
		} else {
			switch c {
			case s.menuChar:
				menu = true
				continue
			case s.exitChar:
				return nil
			case '\r':
				err = s.send("\n")
			default:
				err = s.send(string(c))
			}
		}
		if errors.Is(err, errExit) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) handleMenuKey(c rune) error {
	switch c {
	case s.menuChar, s.exitChar:
		// send the special character itself
		_, err := s.port.Write([]byte(string(c)))
		if err == nil && s.echo {
			s.write(string(c))
		}
		return err
	case 'h', 'H', '?', 8:
		s.mu.Lock()
		io.WriteString(s.status, s.Help())
		s.mu.Unlock()
	case 'e', 'E':
		s.echo = !s.echo
		s.info("local echo %s", onOff(s.echo))
	case 'r', 'R':
		s.rts = !s.rts
		if err := s.port.SetRTS(s.rts); err != nil {
			return err
		}
		s.info("RTS %s", onOff(s.rts))
	case 'd', 'D':
		s.dtr = !s.dtr
		if err := s.port.SetDTR(s.dtr); err != nil {
			return err
		}
		s.info("DTR %s", onOff(s.dtr))
	case 'q', 'Q':
		return errExit
	default:
		s.info("unknown menu character %s", KeyDescription(c))
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "active"
	}
	return "inactive"
}

// KeyDescription names a key: Ctrl+<letter> for control characters
func KeyDescription(c rune) string {
	if c < 32 {
		return fmt.Sprintf("Ctrl+%c", '@'+c)
	}
	return fmt.Sprintf("%q", c)
}

// Help is the menu help text
func (s *Session) Help() string {
	menu := KeyDescription(s.menuChar)
	lines := []string{
		"",
		"--- Monitor help:",
		"---",
		fmt.Sprintf("---    %-8s Exit program", KeyDescription(s.exitChar)),
		fmt.Sprintf("---    %-8s Menu escape key, followed by:", menu),
		"--- Menu keys:",
		fmt.Sprintf("---    %-8s Send the menu character itself to remote", menu),
		fmt.Sprintf("---    %-8s Send the exit character itself to remote", KeyDescription(s.exitChar)),
		"---    e        Toggle local echo",
		"---    r        Toggle RTS",
		"---    d        Toggle DTR",
		"---    h        Show this help",
		"---    q        Exit program",
		"",
	}
	return strings.Join(lines, "\r\n")
}

// Monitor opens the port described by opts and runs a session on the
// terminal until the user exits
func Monitor(ctx context.Context, opts Options) error {
	ports, err := ListSerialPorts()
	if err != nil && opts.Port == "" {
		return err
	}
	name := ResolvePort(opts.Port, ports)
	if name == "" {
		return errors.New("please specify a port with --port, no single USB serial port was found")
	}

	if opts.RTSCTS || opts.XonXoff {
		fmt.Fprintln(os.Stderr, "--- flow control is not supported by the serial driver, ignoring ---")
	}

	mode, err := opts.Mode()
	if err != nil {
		return err
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return fmt.Errorf("could not open port %s: %w", name, err)
	}
	defer port.Close()

	session, err := NewSession(port, opts, os.Stdout, os.Stderr)
	if err != nil {
		return err
	}

	if !opts.Quiet {
		fmt.Fprintf(os.Stderr, "--- Monitor on %s  %d,8,%s,1 ---\n", name, opts.Baud, strings.ToUpper(opts.Parity))
		fmt.Fprintf(os.Stderr, "--- Quit: %s | Menu: %s | Help: %s followed by h ---\n",
			KeyDescription(session.exitChar), KeyDescription(session.menuChar), KeyDescription(session.menuChar))
	}

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return err
		}
		defer term.Restore(fd, state)
	}

	err = session.Run(ctx, os.Stdin)
	if !opts.Quiet {
		fmt.Fprintln(os.Stderr, "\r\n--- exit ---")
	}
	return err
}
