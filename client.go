package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	cli "github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/xtaci/qcpgo/config"
	"github.com/xtaci/qcpgo/control"
	"github.com/xtaci/qcpgo/credentials"
	"github.com/xtaci/qcpgo/logging"
	"github.com/xtaci/qcpgo/qcperr"
	"github.com/xtaci/qcpgo/quicendpoint"
	"github.com/xtaci/qcpgo/session"
)

// remoteTarget is a parsed [user@]host:path specification.
type remoteTarget struct {
	user string
	host string
	path string
}

// parseRemoteTarget reports whether arg names a remote path: it does when
// its first ':' has a non-empty host part before it and a non-empty path
// after it, with an optional "user@" prefix split off the host part. There
// is no escaping and no drive-letter handling, so "X:path" is treated as
// host X, matching scp.
func parseRemoteTarget(arg string) (remoteTarget, bool) {
	colon := strings.IndexByte(arg, ':')
	if colon < 0 {
		return remoteTarget{}, false
	}
	hostPart := arg[:colon]
	path := arg[colon+1:]
	if hostPart == "" || path == "" {
		return remoteTarget{}, false
	}
	user := ""
	host := hostPart
	if at := strings.IndexByte(hostPart, '@'); at >= 0 {
		user = hostPart[:at]
		host = hostPart[at+1:]
	}
	if host == "" {
		return remoteTarget{}, false
	}
	return remoteTarget{user: user, host: host, path: path}, true
}

func runClientCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return exitWithExample("qcp requires exactly a SOURCE and a DESTINATION", exampleClient)
	}
	srcArg := strings.TrimSpace(c.Args().Get(0))
	dstArg := strings.TrimSpace(c.Args().Get(1))

	srcRemote, isSrcRemote := parseRemoteTarget(srcArg)
	dstRemote, isDstRemote := parseRemoteTarget(dstArg)
	if isSrcRemote == isDstRemote {
		return exitWithExample("qcp requires exactly one remote endpoint", exampleClient)
	}

	var remote remoteTarget
	var kind session.Kind
	var localPath string
	if isSrcRemote {
		remote, kind, localPath = srcRemote, session.KindGet, dstArg
	} else {
		remote, kind, localPath = dstRemote, session.KindPut, srcArg
	}
	if remote.user == "" {
		remote.user = strings.TrimSpace(c.String("remote-user"))
	}

	overrides, err := cliOverridesFrom(c)
	if err != nil {
		return qcperr.Wrap(qcperr.KindConfig, "parse CLI flags", "%v", err)
	}

	cfg, prov, err := config.Resolve(overrides, userConfigPath(c), systemConfigPath(c), remote.host)
	if err != nil {
		return qcperr.Wrap(qcperr.KindConfig, "resolve configuration", "%v", err)
	}

	if c.Bool("show-config") {
		printConfig(cfg, prov)
		return nil
	}

	return runClientSession(c, cfg, remote, kind, localPath)
}

func runClientSession(c *cli.Context, cfg config.Configuration, remote remoteTarget, kind session.Kind, localPath string) (err error) {
	logger := logging.New("qcp[client]", c.Bool("debug"))
	sshCmd, controlPipe, err := spawnSSH(cfg, remote)
	if err != nil {
		return qcperr.Wrap(qcperr.KindSsh, "spawn ssh", "%v", err)
	}
	defer func() {
		reapErr := reapSSH(sshCmd)
		if err == nil && reapErr != nil {
			err = reapErr
		}
	}()

	// closeAll tears down whatever transport resources have been opened so
	// far: registered once per resource as it comes up, run exactly once
	// either by the SIGINT/SIGTERM handler below or, on an ordinary return,
	// by the deferred call here. spec.md section 4.6 requires that a
	// cancellation actually close the QUIC connection and the control pipe
	// rather than leave them to finish on their own.
	var closeMu sync.Mutex
	var closers []func()
	addCloser := func(fn func()) {
		closeMu.Lock()
		closers = append(closers, fn)
		closeMu.Unlock()
	}
	closeAll := func() {
		closeMu.Lock()
		fns := closers
		closers = nil
		closeMu.Unlock()
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
	defer closeAll()
	addCloser(func() { controlPipe.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
			closeAll()
		case <-ctx.Done():
		}
	}()

	ch := control.New(controlPipe)
	effLevel, err := ch.ClientHandshake(control.CurrentLevel, c.Bool("remote-debug"))
	if err != nil {
		return qcperr.Wrap(qcperr.KindControlProtocol, "control handshake", "%v", err)
	}
	logger.Debugf("control handshake complete, effective level %d", effLevel)

	creds, err := credentials.Generate()
	if err != nil {
		return qcperr.Wrap(qcperr.KindTLS, "generate credentials", "%v", err)
	}
	defer creds.Destroy()

	direction := directionFor(kind)
	if err := ch.SendClientMessage(control.ClientMessage{
		CredentialsType: control.CredentialsX509,
		Cert:            creds.CertDER,
		Direction:       direction,
		ShowConfig:      c.Bool("remote-config"),
		Preferences:     cfg.ToPreferences(),
	}); err != nil {
		return qcperr.Wrap(qcperr.KindControlProtocol, "send client message", "%v", err)
	}

	reply, err := ch.ReadServerMessage()
	if err != nil {
		return qcperr.Wrap(qcperr.KindControlProtocol, "read server message", "%v", err)
	}
	if !reply.Ok {
		return qcperr.Wrap(qcperr.KindRemote, "server handshake", "%s: %s", reply.FailureReason, reply.FailureMessage)
	}
	logger.Debugf("negotiated transport: rx-at-client=%d rtt=%dms congestion=%s", reply.Negotiated.RxAtClient, reply.Negotiated.RTTMillis, reply.Negotiated.Congestion)

	if c.Bool("remote-config") {
		printNegotiated(reply.Negotiated)
	}
	if c.Bool("dry-run") {
		return nil
	}

	serverAddr := fmt.Sprintf("%s:%d", remote.host, reply.Port)
	tlsConf, err := credentials.PinnedTLSConfig(creds, reply.Cert, false)
	if err != nil {
		return qcperr.Wrap(qcperr.KindTLS, "build tls config", "%v", err)
	}

	logger.Debugf("dialing quic endpoint at %s", serverAddr)
	conn, stream, err := quicendpoint.Dial(ctx, serverAddr, tlsConf, reply.Negotiated)
	if err != nil {
		return qcperr.Wrap(qcperr.KindQuic, "dial quic", "%v", err)
	}
	addCloser(func() { conn.CloseWithError(0, "done") })

	var progress session.ProgressFunc
	if !c.Bool("quiet") {
		progress = newProgressRenderer(cfg.Color)
	}
	preserve := cfg.Preserve

	switch kind {
	case session.KindGet:
		err = session.Get(stream, remote.path, localPath, preserve, progress)
	case session.KindPut:
		err = session.Put(stream, localPath, remote.path, preserve, progress)
	}
	_ = stream.Close()
	if err != nil {
		return err
	}

	report, repErr := ch.ReadClosedownReport()
	if repErr == nil && c.Bool("statistics") {
		printClosedown(report)
	}
	return nil
}

func directionFor(k session.Kind) control.Direction {
	if k == session.KindPut {
		return control.DirectionUpload
	}
	return control.DirectionDownload
}

// newProgressRenderer builds a ProgressFunc that redraws in place with a
// bare carriage return on a real terminal, and falls back to one line per
// update when stderr is redirected (a log file, a pipe) where \r would
// just produce noise. colorMode follows --color: auto decides by
// term.IsTerminal, always/never force the ANSI wrapping on or off.
func newProgressRenderer(colorMode string) session.ProgressFunc {
	isTTY := term.IsTerminal(int(os.Stderr.Fd()))
	colored := colorMode == "always" || (colorMode != "never" && isTTY)
	return func(transferred uint64) {
		line := fmt.Sprintf("%d bytes transferred", transferred)
		if colored {
			line = "\x1b[36m" + line + "\x1b[0m"
		}
		if isTTY {
			fmt.Fprintf(os.Stderr, "\r%s", line)
		} else {
			fmt.Fprintln(os.Stderr, line)
		}
	}
}

// spawnSSH starts the ssh client as a child process with stdin/stdout
// wired to become the control channel, per spec.md section 4.6 step 2.
func spawnSSH(cfg config.Configuration, remote remoteTarget) (*exec.Cmd, io.ReadWriteCloser, error) {
	sshPath := cfg.SSH
	if sshPath == "" {
		sshPath = defaultSSHPath
	}
	args := append([]string(nil), cfg.SSHOptions...)
	for _, f := range cfg.SSHConfig {
		args = append(args, "-F", f)
	}
	target := remote.host
	if remote.user != "" {
		target = remote.user + "@" + remote.host
	}
	if cfg.SSHSubsystem {
		args = append(args, "-s", target, sshSubsystemName)
	} else {
		args = append(args, target, "qcp", "--server")
	}

	cmd := exec.Command(sshPath, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return cmd, &sshPipe{w: stdin, r: stdout}, nil
}

// sshPipe adapts an ssh child's separate stdin/stdout pipes into the
// single io.ReadWriteCloser the control channel expects.
type sshPipe struct {
	w io.WriteCloser
	r io.ReadCloser
}

func (p *sshPipe) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *sshPipe) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *sshPipe) Close() error {
	werr := p.w.Close()
	rerr := p.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// reapSSH waits for the ssh child and converts a nonzero exit with no
// prior structured error into SshFailure, per spec.md section 4.6 step 7.
func reapSSH(cmd *exec.Cmd) error {
	if err := cmd.Wait(); err != nil {
		return qcperr.Wrap(qcperr.KindSsh, "ssh child exit", "%v", err)
	}
	return nil
}

func userConfigPath(c *cli.Context) string {
	if files := c.StringSlice("config-files"); len(files) > 0 {
		return files[0]
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.qcp/qcp.conf"
}

func systemConfigPath(c *cli.Context) string {
	if files := c.StringSlice("config-files"); len(files) > 1 {
		return files[1]
	}
	return "/etc/qcp/qcp.conf"
}

func cliOverridesFrom(c *cli.Context) (config.CLIOverrides, error) {
	var o config.CLIOverrides
	if c.IsSet("rx") {
		v := c.Uint64("rx")
		o.RxBW = &v
	}
	if c.IsSet("tx") {
		v := c.Uint64("tx")
		o.TxBW = &v
	}
	if c.IsSet("rtt") {
		v := uint32(c.Uint("rtt"))
		o.RTTMillis = &v
	}
	if c.IsSet("congestion") {
		cc, ok := config.ParseCongestion(strings.ToLower(c.String("congestion")))
		if !ok {
			return o, fmt.Errorf("unknown congestion algorithm %q", c.String("congestion"))
		}
		o.Congestion = &cc
	}
	if c.IsSet("initial-congestion-window") {
		v := c.Uint64("initial-congestion-window")
		o.InitialCwnd = &v
	}
	if c.IsSet("port") {
		pr, err := config.ParsePortRange(c.String("port"))
		if err != nil {
			return o, err
		}
		o.Port = &pr
	}
	if c.IsSet("remote-port") {
		pr, err := config.ParsePortRange(c.String("remote-port"))
		if err != nil {
			return o, err
		}
		o.RemotePort = &pr
	}
	if c.IsSet("timeout") {
		v := uint16(c.Uint("timeout"))
		o.Timeout = &v
	}
	af := config.AddressFamilyAny
	afSet := false
	if c.Bool("4") {
		af, afSet = config.AddressFamilyV4, true
	}
	if c.Bool("6") {
		af, afSet = config.AddressFamilyV6, true
	}
	if c.IsSet("address-family") {
		switch strings.ToLower(c.String("address-family")) {
		case "4", "v4":
			af = config.AddressFamilyV4
		case "6", "v6":
			af = config.AddressFamilyV6
		default:
			af = config.AddressFamilyAny
		}
		afSet = true
	}
	if afSet {
		o.AddressFamily = &af
	}
	if c.IsSet("ssh") {
		v := c.String("ssh")
		o.SSH = &v
	}
	if c.IsSet("S") {
		o.SSHOptions = c.StringSlice("S")
	}
	if c.IsSet("remote-user") {
		v := c.String("remote-user")
		o.RemoteUser = &v
	}
	if c.IsSet("time-format") {
		v := c.String("time-format")
		o.TimeFormat = &v
	}
	if c.IsSet("ssh-config") {
		o.SSHConfigFiles = c.StringSlice("ssh-config")
	}
	if c.IsSet("ssh-subsystem") {
		v := c.Bool("ssh-subsystem")
		o.SSHSubsystem = &v
	}
	if c.IsSet("color") {
		v := c.String("color")
		o.Color = &v
	}
	if c.IsSet("preserve") {
		v := c.Bool("preserve")
		o.Preserve = &v
	}
	return o, nil
}

func printConfig(cfg config.Configuration, prov config.FieldProvenance) {
	fmt.Printf("Rx\t%d\t(%s)\n", cfg.RxBW, prov["rx"])
	fmt.Printf("Tx\t%d\t(%s)\n", cfg.TxBW, prov["tx"])
	fmt.Printf("Rtt\t%d\t(%s)\n", cfg.RTTMillis, prov["rtt"])
	fmt.Printf("Congestion\t%s\t(%s)\n", cfg.Congestion, prov["congestion"])
	fmt.Printf("Timeout\t%d\t(%s)\n", cfg.Timeout, prov["timeout"])
}

func printNegotiated(n config.Negotiated) {
	fmt.Printf("negotiated: rx-at-client=%d rx-at-server=%d rtt=%dms congestion=%s mtu=[%d,%d,%d]\n",
		n.RxAtClient, n.RxAtServer, n.RTTMillis, n.Congestion, n.MinMTU, n.InitialMTU, n.MaxMTU)
}

func printClosedown(r control.ClosedownReport) {
	fmt.Printf("closedown: mtu=%d rtt=%dus sent=%d received=%d lost_packets=%d congestion_events=%d\n",
		r.PathMTU, r.RTTMicros, r.BytesSent, r.BytesReceived, r.LostPackets, r.CongestionEvents)
}
