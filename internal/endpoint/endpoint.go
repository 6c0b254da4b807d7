package endpoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"sipharness/pkg/logging"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// Options configures an Endpoint. Flag names follow pjsua.
type Options struct {
	// Listen is the local UDP address; port 0 picks a free port.
	Listen string
	UseICE bool
	// ICENoRTCP offers a single ICE component (RTP only).
	ICENoRTCP bool
	// MaxCalls bounds concurrent calls; further INVITEs get 486.
	MaxCalls int
	// NullAudio is accepted for pjsua compatibility; no audio device is used.
	NullAudio bool
	// Destination, when set, is called right after start-up.
	Destination string
	// InviteTimeout bounds the wait for a final response.
	InviteTimeout time.Duration
}

// DefaultOptions returns the options of a bare `endpoint` invocation.
func DefaultOptions() Options {
	return Options{
		Listen:        "127.0.0.1:0",
		MaxCalls:      4,
		InviteTimeout: 10 * time.Second,
	}
}

type callState string

const (
	stateCalling      callState = "CALLING"
	stateIncoming     callState = "INCOMING"
	stateConnecting   callState = "CONNECTING"
	stateConfirmed    callState = "CONFIRMED"
	stateDisconnected callState = "DISCONNECTED"
)

type call struct {
	id       int
	callID   string
	outgoing bool
	state    callState
	remote   Media

	// invite and ok hold the dialog for BYE; cseq is the local sequence.
	invite *sip.Request
	ok     *sip.Response
	cseq   uint32
}

// Endpoint is a minimal SIP user agent that prints pjsua-style call state
// lines. It is the cooperating peer for end-to-end scenarios.
type Endpoint struct {
	opts Options
	out  io.Writer

	outMu sync.Mutex

	mu       sync.Mutex
	calls    map[string]*call
	nextCall int
	active   int
	contact  sip.Uri
	local    Media
	sessions uint64

	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client
	conn   net.PacketConn
}

// New creates an Endpoint writing its state lines to out.
func New(opts Options, out io.Writer) (*Endpoint, error) {
	if opts.Listen == "" {
		opts.Listen = DefaultOptions().Listen
	}
	if opts.MaxCalls <= 0 {
		opts.MaxCalls = DefaultOptions().MaxCalls
	}
	if opts.InviteTimeout <= 0 {
		opts.InviteTimeout = DefaultOptions().InviteTimeout
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgent("sipharness-endpoint"))
	if err != nil {
		return nil, fmt.Errorf("failed to create user agent: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create SIP server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("failed to create SIP client: %w", err)
	}

	e := &Endpoint{
		opts:   opts,
		out:    out,
		calls:  make(map[string]*call),
		ua:     ua,
		server: server,
		client: client,
	}
	server.OnInvite(e.onInvite)
	server.OnAck(e.onAck)
	server.OnBye(e.onBye)
	return e, nil
}

// Addr returns the bound UDP address once Run has started listening.
func (e *Endpoint) Addr() net.Addr {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	return e.conn.LocalAddr()
}

// Run listens, places the configured call and processes stdin commands
// until ctx is done, stdin is closed, or the quit command arrives:
//
//	q  quit
//	h  hang up every confirmed call
func (e *Endpoint) Run(ctx context.Context, stdin io.Reader) error {
	defer e.ua.Close()

	conn, err := net.ListenPacket("udp", e.opts.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.opts.Listen, err)
	}
	defer conn.Close()

	addr := conn.LocalAddr().(*net.UDPAddr)
	var contact sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:endpoint@%s", addr), &contact); err != nil {
		return fmt.Errorf("invalid contact address %s: %w", addr, err)
	}
	e.mu.Lock()
	e.conn = conn
	e.contact = contact
	e.local = Media{Host: addr.IP.String(), Port: 4000 + addr.Port%1000*2, Components: e.opts.components()}
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- e.server.ServeUDP(conn)
	}()
	e.printf("Ready: listening on udp %s", addr)

	if e.opts.Destination != "" {
		go func() {
			if err := e.Call(ctx, e.opts.Destination); err != nil {
				logging.Error("Endpoint", err, "Call to %s failed", e.opts.Destination)
			}
		}()
	}

	commands := make(chan string)
	go readCommands(stdin, commands)

	for {
		select {
		case <-ctx.Done():
			e.hangupAll(context.Background())
			return nil
		case err := <-serveErr:
			if err != nil && !errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("SIP server stopped: %w", err)
			}
			return nil
		case cmd, ok := <-commands:
			if !ok {
				e.hangupAll(context.Background())
				return nil
			}
			switch cmd {
			case "q":
				e.hangupAll(context.Background())
				return nil
			case "h":
				e.hangupAll(ctx)
			case "":
			default:
				logging.Warn("Endpoint", "Unknown command %q", cmd)
			}
		}
	}
}

func readCommands(r io.Reader, out chan<- string) {
	defer close(out)
	if r == nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- strings.TrimSpace(scanner.Text())
	}
}

// Call places a call to dest and blocks until it is confirmed or failed.
func (e *Endpoint) Call(ctx context.Context, dest string) error {
	var recipient sip.Uri
	if err := sip.ParseUri(dest, &recipient); err != nil {
		return fmt.Errorf("invalid destination %q: %w", dest, err)
	}

	e.mu.Lock()
	local, contact := e.local, e.contact
	e.sessions++
	session := e.sessions
	e.mu.Unlock()

	offer, err := local.Marshal(uint64(time.Now().Unix()) + session)
	if err != nil {
		return fmt.Errorf("failed to build SDP offer: %w", err)
	}

	req := sip.NewRequest(sip.INVITE, recipient)
	req.AppendHeader(&sip.ContactHeader{Address: contact})
	req.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	req.SetBody(offer)

	ctx, cancel := context.WithTimeout(ctx, e.opts.InviteTimeout)
	defer cancel()

	tx, err := e.client.TransactionRequest(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to send INVITE: %w", err)
	}
	defer tx.Terminate()

	c := e.newCall(req.CallID().Value(), true)
	e.setState(c, stateCalling)

	for {
		select {
		case res := <-tx.Responses():
			if res.StatusCode < 200 {
				continue
			}
			if res.StatusCode >= 300 {
				e.setState(c, stateDisconnected)
				return fmt.Errorf("call rejected: %d %s", res.StatusCode, res.Reason)
			}
			return e.confirmOutgoing(c, req, res)
		case <-tx.Done():
			e.setState(c, stateDisconnected)
			return fmt.Errorf("INVITE transaction ended: %w", tx.Err())
		case <-ctx.Done():
			e.setState(c, stateDisconnected)
			return ctx.Err()
		}
	}
}

func (e *Endpoint) confirmOutgoing(c *call, req *sip.Request, res *sip.Response) error {
	remote, err := ParseMedia(res.Body())
	if err != nil {
		e.setState(c, stateDisconnected)
		return fmt.Errorf("bad SDP answer: %w", err)
	}

	ack := newAck(req, res)
	if err := e.client.WriteRequest(ack); err != nil {
		e.setState(c, stateDisconnected)
		return fmt.Errorf("failed to send ACK: %w", err)
	}

	e.mu.Lock()
	c.remote = remote
	c.invite, c.ok = req, res
	c.cseq = req.CSeq().SeqNo
	e.mu.Unlock()

	e.setState(c, stateConfirmed)
	e.reportMedia(c)
	return nil
}

func (e *Endpoint) onInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	respond := func(code int, reason string, body []byte) *sip.Response {
		res := sip.NewResponseFromRequest(req, code, reason, body)
		if body != nil {
			res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
		}
		e.mu.Lock()
		contact := e.contact
		e.mu.Unlock()
		res.AppendHeader(&sip.ContactHeader{Address: contact})
		if err := tx.Respond(res); err != nil {
			logging.Error("Endpoint", err, "Failed to respond %d to INVITE", code)
		}
		return res
	}

	remote, err := ParseMedia(req.Body())
	if err != nil {
		logging.Warn("Endpoint", "Rejecting INVITE: %v", err)
		respond(488, "Not Acceptable Here", nil)
		return
	}

	c, ok := e.admit(callID, req)
	if !ok {
		respond(486, "Busy Here", nil)
		return
	}
	e.mu.Lock()
	c.remote = remote
	local := e.local
	e.sessions++
	session := e.sessions
	e.mu.Unlock()
	e.setState(c, stateIncoming)

	answer, err := local.Marshal(uint64(time.Now().Unix()) + session)
	if err != nil {
		respond(500, "Server Internal Error", nil)
		e.setState(c, stateDisconnected)
		return
	}
	res := respond(200, "OK", answer)
	e.mu.Lock()
	c.ok = res
	e.mu.Unlock()
	e.setState(c, stateConnecting)
}

func (e *Endpoint) onAck(req *sip.Request, _ sip.ServerTransaction) {
	c := e.lookup(req.CallID().Value())
	if c == nil || e.stateOf(c) != stateConnecting {
		return
	}
	e.setState(c, stateConfirmed)
	e.reportMedia(c)
}

func (e *Endpoint) onBye(req *sip.Request, tx sip.ServerTransaction) {
	c := e.lookup(req.CallID().Value())
	if c == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	if err := tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil)); err != nil {
		logging.Error("Endpoint", err, "Failed to respond to BYE")
	}
	e.setState(c, stateDisconnected)
}

// hangupAll sends BYE for every confirmed call and disconnects every other
// live call locally.
func (e *Endpoint) hangupAll(ctx context.Context) {
	e.mu.Lock()
	var live, confirmed []*call
	for _, c := range e.calls {
		switch {
		case c.state == stateConfirmed:
			confirmed = append(confirmed, c)
		case c.state != stateDisconnected:
			live = append(live, c)
		}
	}
	e.mu.Unlock()

	for _, c := range confirmed {
		if err := e.bye(ctx, c); err != nil {
			logging.Warn("Endpoint", "BYE for call %d failed: %v", c.id, err)
		}
		e.setState(c, stateDisconnected)
	}
	for _, c := range live {
		e.setState(c, stateDisconnected)
	}
}

func (e *Endpoint) bye(ctx context.Context, c *call) error {
	e.mu.Lock()
	c.cseq++
	bye, err := newBye(c, c.cseq)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	tx, err := e.client.TransactionRequest(ctx, bye, sipgo.ClientRequestBuild)
	if err != nil {
		return err
	}
	defer tx.Terminate()
	select {
	case <-tx.Responses():
		return nil
	case <-tx.Done():
		return tx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Endpoint) newCall(callID string, outgoing bool) *call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.insertLocked(callID, outgoing)
}

// admit registers an incoming call unless MaxCalls calls are active.
func (e *Endpoint) admit(callID string, invite *sip.Request) (*call, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active >= e.opts.MaxCalls {
		return nil, false
	}
	c := e.insertLocked(callID, false)
	c.invite = invite
	return c, true
}

func (e *Endpoint) insertLocked(callID string, outgoing bool) *call {
	c := &call{id: e.nextCall, callID: callID, outgoing: outgoing}
	e.nextCall++
	e.active++
	e.calls[callID] = c
	return c
}

func (e *Endpoint) lookup(callID string) *call {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[callID]
}

func (e *Endpoint) stateOf(c *call) callState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return c.state
}

func (e *Endpoint) setState(c *call, s callState) {
	e.mu.Lock()
	if c.state == s || c.state == stateDisconnected {
		e.mu.Unlock()
		return
	}
	c.state = s
	if s == stateDisconnected {
		e.active--
	}
	e.mu.Unlock()
	e.printf("Call %d state changed to %s", c.id, s)
}

func (e *Endpoint) reportMedia(c *call) {
	e.mu.Lock()
	local, remote := e.local.Components, c.remote.Components
	e.mu.Unlock()

	if local > 0 {
		if n := negotiated(local, remote); n > 0 {
			e.printf("ICE negotiation success (%d component(s))", n)
		} else {
			e.printf("ICE negotiation skipped: remote does not support ICE")
		}
	}
	e.printf("Media for call %d is active", c.id)
}

func (e *Endpoint) printf(format string, args ...interface{}) {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	fmt.Fprintf(e.out, format+"\n", args...)
}
