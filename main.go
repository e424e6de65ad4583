package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
	cli "github.com/urfave/cli/v2"

	"github.com/xtaci/qcpgo/qcperr"
)

// main dispatches between server mode (invoked by sshd as "qcp --server" on
// stdin/stdout) and client mode (the default, taking SOURCE and DESTINATION
// positional arguments), per spec.md section 6.
func main() {
	memguard.CatchInterrupt()
	app := &cli.App{
		Name:      "qcp",
		Usage:     "Copy files over a QUIC transport authenticated via an existing SSH trust relationship",
		ArgsUsage: "SOURCE DESTINATION",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "rx", Usage: "receive bandwidth, bytes/sec as a plain integer (k/M/G suffixes are accepted in config files only)"},
			&cli.Uint64Flag{Name: "tx", Usage: "transmit bandwidth, bytes/sec; 0 means use --rx"},
			&cli.UintFlag{Name: "rtt", Usage: "round-trip time estimate, milliseconds"},
			&cli.StringFlag{Name: "congestion", Usage: "congestion control algorithm: cubic, newreno, bbr"},
			&cli.Uint64Flag{Name: "initial-congestion-window", Usage: "initial congestion window, bytes"},
			&cli.StringFlag{Name: "port", Usage: "local UDP port or port range to bind"},
			&cli.StringFlag{Name: "remote-port", Usage: "remote UDP port or port range to request"},
			&cli.UintFlag{Name: "timeout", Usage: "idle timeout, seconds"},
			&cli.StringFlag{Name: "address-family", Usage: "any, 4, or 6"},
			&cli.BoolFlag{Name: "4", Usage: "shorthand for --address-family 4"},
			&cli.BoolFlag{Name: "6", Usage: "shorthand for --address-family 6"},
			&cli.StringFlag{Name: "ssh", Usage: "path to the ssh client binary", Value: defaultSSHPath},
			&cli.StringSliceFlag{Name: "S", Usage: "pass an option through to ssh (repeatable)"},
			&cli.StringSliceFlag{Name: "ssh-config", Usage: "additional ssh config file to read (repeatable)"},
			&cli.BoolFlag{Name: "ssh-subsystem", Usage: "invoke the remote qcp via the ssh subsystem mechanism instead of a command"},
			&cli.StringFlag{Name: "remote-user", Aliases: []string{"l"}, Usage: "remote username, if not given in DESTINATION"},
			&cli.BoolFlag{Name: "preserve", Usage: "preserve modification time and permissions"},
			&cli.StringFlag{Name: "time-format", Usage: "local or utc, for --statistics timestamps"},
			&cli.StringFlag{Name: "color", Usage: "auto, always, or never"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "suppress progress output"},
			&cli.BoolFlag{Name: "statistics", Aliases: []string{"s"}, Usage: "print the closedown report after transfer"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "print a structured error chain on failure"},
			&cli.BoolFlag{Name: "remote-debug", Usage: "ask the remote side to enable debug logging"},
			&cli.BoolFlag{Name: "dry-run", Usage: "negotiate but skip the QUIC session entirely"},
			&cli.BoolFlag{Name: "show-config", Usage: "print the resolved local configuration and exit"},
			&cli.BoolFlag{Name: "remote-config", Usage: "print the negotiated configuration after handshake"},
			&cli.StringSliceFlag{Name: "config-files", Usage: "override the user/system config file search path (repeatable)"},
			&cli.BoolFlag{Name: "help-buffers", Usage: "print kernel UDP buffer advice and exit"},
			&cli.BoolFlag{Name: "server", Usage: "internal: run in server mode on stdin/stdout", Hidden: true},
		},
		Action: runRootCommand,
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitCodeFor(hasDebugFlag(os.Args), err))
	}
}

// hasDebugFlag reports whether --debug was among argv, without a second full
// flag parse; used only to decide whether exitCodeFor prints the chain.
func hasDebugFlag(argv []string) bool {
	for _, a := range argv {
		if a == "--debug" || a == "-d" {
			return true
		}
	}
	return false
}

// exitCodeFor prints the single human-readable line spec.md section 7
// requires, plus the structured chain on --debug, and returns the exit
// code from the qcperr table (falling back to urfave/cli's own ExitCoder
// for plain misuse errors).
func exitCodeFor(debug bool, err error) int {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, err)
		return exitErr.ExitCode()
	}
	if qe, ok := qcperr.As(err); ok {
		fmt.Fprintln(os.Stderr, qe.Error())
		if debug {
			for cur := error(qe); cur != nil; cur = errors.Unwrap(cur) {
				fmt.Fprintln(os.Stderr, "  caused by:", cur)
			}
		}
		return qe.Kind.ExitCode()
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func runRootCommand(c *cli.Context) error {
	if c.Bool("help-buffers") {
		printBufferAdvice()
		return nil
	}
	if c.Bool("server") {
		return runServerCommand(c)
	}
	return runClientCommand(c)
}

// exitWithExample formats an error message with an example invocation and
// a CLI misuse exit code (spec.md section 6: "2 misuse/parse error").
func exitWithExample(message, example string) error {
	return cli.Exit(fmt.Sprintf("%s\nExample: %s", message, example), 2)
}

func printBufferAdvice() {
	fmt.Fprintln(os.Stdout, "qcp requests SO_RCVBUF/SO_SNDBUF at the negotiated UdpBuffer size.")
	fmt.Fprintln(os.Stdout, "If the kernel grants less, raise net.core.rmem_max / net.core.wmem_max.")
}
