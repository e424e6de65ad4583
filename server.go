package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	cli "github.com/urfave/cli/v2"

	"github.com/xtaci/qcpgo/config"
	"github.com/xtaci/qcpgo/control"
	"github.com/xtaci/qcpgo/credentials"
	"github.com/xtaci/qcpgo/logging"
	"github.com/xtaci/qcpgo/qcperr"
	"github.com/xtaci/qcpgo/quicendpoint"
	"github.com/xtaci/qcpgo/session"
)

// clientIPFromEnv extracts the SSH-reported client address for Host
// matching, preferring SSH_CONNECTION over SSH_CLIENT and taking the
// first whitespace-separated token of whichever is set, matching the
// original server/connection_info.rs's parse_ssh_env.
func clientIPFromEnv() string {
	if s := os.Getenv("SSH_CONNECTION"); s != "" {
		if fields := strings.Fields(s); len(fields) > 0 {
			return fields[0]
		}
	}
	if s := os.Getenv("SSH_CLIENT"); s != "" {
		if fields := strings.Fields(s); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// runServerCommand is the --server entry point, invoked by sshd with
// stdin/stdout as the control channel (spec.md section 4.8). Any error
// returned here has already been reported to the client where possible
// via ServerMessage or session.Response; a bare error return only happens
// before the control channel is usable enough to carry one.
func runServerCommand(c *cli.Context) error {
	hostToken := clientIPFromEnv()
	cfg, _, err := config.Resolve(config.CLIOverrides{}, userConfigPath(c), systemConfigPath(c), hostToken)
	if err != nil {
		return qcperr.Wrap(qcperr.KindConfig, "resolve server configuration", "%v", err)
	}

	logger := logging.New("qcp[server]", c.Bool("remote-debug"))
	logger.Debugf("client address for Host matching: %q", hostToken)

	ch := control.New(&sshPipe{w: os.Stdout, r: os.Stdin})
	clientGreeting, effLevel, err := ch.ServerHandshake(control.CurrentLevel)
	if err != nil {
		return qcperr.Wrap(qcperr.KindControlProtocol, "server handshake", "%v", err)
	}
	if clientGreeting.ShowDebug {
		logger.SetVerbose(true)
	}
	logger.Debugf("control handshake complete, effective level %d", effLevel)

	clientMsg, err := ch.ReadClientMessage()
	if err != nil {
		return qcperr.Wrap(qcperr.KindControlProtocol, "read client message", "%v", err)
	}

	clientCfg := config.FromPreferences(clientMsg.Preferences, cfg)
	negotiated, negErr := config.Negotiate(clientCfg, cfg)
	if negErr != nil {
		_ = ch.SendServerMessage(control.ServerMessage{
			Ok:             false,
			FailureReason:  control.FailureIncompatible,
			FailureMessage: negErr.Error(),
		})
		return qcperr.Wrap(qcperr.KindIncompatible, "negotiate configuration", "%v", negErr)
	}

	creds, err := credentials.Generate()
	if err != nil {
		_ = ch.SendServerMessage(control.ServerMessage{Ok: false, FailureReason: control.FailureInternal, FailureMessage: "failed to generate credentials"})
		return qcperr.Wrap(qcperr.KindTLS, "generate credentials", "%v", err)
	}
	defer creds.Destroy()

	tlsConf, err := credentials.PinnedTLSConfig(creds, clientMsg.Cert, true)
	if err != nil {
		_ = ch.SendServerMessage(control.ServerMessage{Ok: false, FailureReason: control.FailureInternal, FailureMessage: "failed to build tls configuration"})
		return qcperr.Wrap(qcperr.KindTLS, "build tls config", "%v", err)
	}

	srv, err := quicendpoint.Listen(serverListenAddr(cfg.Port), tlsConf, negotiated)
	if err != nil {
		_ = ch.SendServerMessage(control.ServerMessage{Ok: false, FailureReason: control.FailureInternal, FailureMessage: "failed to bind udp endpoint"})
		return qcperr.Wrap(qcperr.KindQuic, "listen quic", "%v", err)
	}
	defer srv.Close()

	if err := ch.SendServerMessage(control.ServerMessage{
		Ok:              true,
		Cert:            creds.CertDER,
		CredentialsType: control.CredentialsX509,
		Port:            udpPort(srv.Addr().String()),
		Negotiated:      negotiated,
	}); err != nil {
		return qcperr.Wrap(qcperr.KindControlProtocol, "send server message", "%v", err)
	}

	logger.Debugf("negotiated transport: rx-at-server=%d rtt=%dms congestion=%s", negotiated.RxAtServer, negotiated.RTTMillis, negotiated.Congestion)

	ctx := context.Background()
	conn, stream, err := srv.Accept(ctx)
	if err != nil {
		return qcperr.Wrap(qcperr.KindQuic, "accept quic connection", "%v", err)
	}
	defer conn.CloseWithError(0, "done")
	logger.Debugf("accepted quic connection from %s", conn.RemoteAddr())

	allowed := session.Direction(clientMsg.Direction)
	extendedStatus := control.Supports(ch.Level, control.LevelExtendedStatus)
	stats, serveErr := session.Serve(stream, allowed, extendedStatus)
	_ = stream.Close()
	if serveErr != nil {
		return qcperr.Wrap(qcperr.KindSessionStatus, "serve session", "%v", serveErr)
	}

	report := control.ClosedownReport{
		PathMTU:       negotiated.InitialMTU,
		RTTMicros:     uint64(negotiated.RTTMillis) * 1000,
		BytesSent:     stats.BytesSent,
		BytesReceived: stats.BytesReceived,
	}
	if err := ch.SendClosedownReport(report); err != nil {
		return qcperr.Wrap(qcperr.KindControlProtocol, "send closedown report", "%v", err)
	}
	return nil
}

// serverListenAddr binds every interface on the configured port, or an
// OS-chosen ephemeral port when the range is the default "any".
func serverListenAddr(pr config.PortRange) string {
	if pr.IsAny() {
		return "0.0.0.0:0"
	}
	return fmt.Sprintf("0.0.0.0:%d", pr.Begin)
}

// udpPort pulls the numeric port back out of a net.Addr's String form, so
// it can be reported to the client in ServerMessage.Port.
func udpPort(addr string) uint16 {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return 0
	}
	var port uint16
	fmt.Sscanf(addr[i+1:], "%d", &port)
	return port
}
