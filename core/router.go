package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/encodeous/trustbgp/perf"
	"github.com/encodeous/trustbgp/protocol"
	"github.com/encodeous/trustbgp/state"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// maxNlriPerUpdate keeps a full /32 UPDATE under protocol.MaxMessageLen
const maxNlriPerUpdate = 500

// BgpRouter is the session engine of one router
type BgpRouter struct {
	*RouterState
	Env      *state.Env
	Sessions *SessionTable
	Voting   *VotingMechanism
	Events   *EventBus
	// Dial opens an outbound connection to a neighbour
	Dial func(ctx context.Context, neigh state.RouterCfg) (net.Conn, error)
	// Listener is opened by Run when nil
	Listener net.Listener
	// DebugAddr enables the debug http server when not empty
	DebugAddr string

	log       *slog.Logger
	label     string
	conns     sync.WaitGroup
	closeOnce sync.Once
}

func NewRouter(env *state.Env) (*BgpRouter, error) {
	rs := NewRouterState(env)
	policy, err := NewVotePolicy(env.Trust.VotePolicy, rs.Table, uint64(time.Now().UnixNano()))
	if err != nil {
		return nil, err
	}
	r := &BgpRouter{
		RouterState: rs,
		Env:         env,
		Sessions:    NewSessionTable(env.Id(), env.Clock),
		Voting: &VotingMechanism{
			Neighbours: env.Self.Neighbors,
			Policy:     policy,
		},
		Events: NewEventBus(),
		log:    env.Log,
		label:  strconv.Itoa(int(env.Id())),
	}
	r.Dial = r.dialTCP
	r.updateGauges()
	return r, nil
}

// Run starts every router task and blocks until the environment is cancelled
// or a task fails.
func (r *BgpRouter) Run() error {
	ctx := r.Env.Context
	if r.Listener == nil {
		ln, err := r.listen(ctx)
		if err != nil {
			return err
		}
		r.Listener = ln
	}
	r.log.Info("router started", "id", r.Id, "as", r.AS, "listen", r.Listener.Addr().String(), "routes", r.Table.Len())

	g := errgroup.Group{}
	task := func(name string, f func() error) {
		g.Go(func() error {
			err := f()
			if err != nil && !errors.Is(err, context.Canceled) {
				r.log.Error("task failed", "task", name, "error", err)
				r.Env.Cancel(fmt.Errorf("%s: %w", name, err))
			}
			return err
		})
	}
	task("listener", r.acceptLoop)
	task("connector", r.connectNeighbours)
	task("keepalive", func() error {
		return r.Env.RepeatTask(r.sendKeepalives, r.Env.Bgp.KeepaliveDuration())
	})
	task("failure detector", func() error {
		return r.Env.RepeatTask(r.detectFailures, r.Env.Bgp.HoldDuration())
	})
	task("vote exchanger", func() error {
		return r.Env.RepeatTask(r.exchangeVotes, r.Env.Trust.VoteDuration())
	})
	if r.DebugAddr != "" {
		task("debug server", r.serveDebug)
	}
	g.Go(func() error {
		<-ctx.Done()
		return r.Listener.Close()
	})

	err := g.Wait()
	err = multierr.Append(ignoreCanceled(err), r.Close())
	r.log.Info("router stopped", "reason", context.Cause(ctx))
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close tears down every session and waits for their goroutines
func (r *BgpRouter) Close() error {
	var err error
	r.closeOnce.Do(func() {
		for _, s := range r.Sessions.Live() {
			err = multierr.Append(err, ignoreCanceled(s.Close()))
		}
		r.conns.Wait()
		err = multierr.Append(err, r.Events.Close())
	})
	return err
}

func (r *BgpRouter) listen(ctx context.Context) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := r.Env.ListenAddr(r.Id)
	ln, err := lc.Listen(ctx, "tcp4", addr.String())
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}

func (r *BgpRouter) acceptLoop() error {
	for {
		conn, err := r.Listener.Accept()
		if err != nil {
			if ctxErr := r.Env.Context.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			r.log.Warn("accept failed", "error", err)
			continue
		}
		r.accept(conn)
	}
}

func (r *BgpRouter) accept(conn net.Conn) {
	ap, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		r.Log(UnknownPeer, "unparseable peer address", "addr", conn.RemoteAddr().String())
		_ = conn.Close()
		return
	}
	neigh, ok := r.Env.FindRouterByAddr(ap.Addr())
	if !ok || !r.Env.Self.IsNeighbor(neigh) {
		r.Log(UnknownPeer, "rejecting connection", "addr", ap.String())
		_ = conn.Close()
		return
	}
	_, _ = r.Attach(neigh, conn, RoleListener)
}

func (r *BgpRouter) dialTCP(ctx context.Context, neigh state.RouterCfg) (net.Conn, error) {
	d := net.Dialer{
		Timeout:   state.DialTimeout,
		LocalAddr: &net.TCPAddr{IP: r.Env.Self.Ip.AsSlice()},
		Control:   reuseAddrControl,
	}
	return d.DialContext(ctx, "tcp4", r.Env.ListenAddr(neigh.Id).String())
}

// connectNeighbours makes one pass over the neighbours after the connect delay
func (r *BgpRouter) connectNeighbours() error {
	ctx := r.Env.Context
	err := r.Env.ScheduleTask(func() {}, r.Env.Bgp.ConnectDelayDuration())
	if err != nil {
		return err
	}
	g := errgroup.Group{}
	for _, n := range r.Env.Self.Neighbors {
		if s := r.Sessions.Current(n); s != nil && !s.IsClosed() {
			continue
		}
		g.Go(func() error {
			r.connectTo(ctx, n)
			return nil
		})
	}
	return g.Wait()
}

func (r *BgpRouter) connectTo(ctx context.Context, n state.RouterId) {
	cfg := r.Env.GetRouter(n)
	op := func() error {
		if s := r.Sessions.Current(n); s != nil && !s.IsClosed() {
			return nil
		}
		conn, err := r.Dial(ctx, cfg)
		if err != nil {
			r.Log(ConnectFailed, "connect failed", "neighbour", n, "error", err)
			return err
		}
		_, err = r.Attach(n, conn, RoleConnector)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}
	if !r.Env.Bgp.ConnectRetry {
		_ = op()
		return
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = state.ConnectRetryMaxElapsed
	err := backoff.Retry(op, backoff.WithContext(b, ctx))
	if err != nil && ctx.Err() == nil {
		r.log.Info("giving up on neighbour", "neighbour", n, "error", err)
	}
}

// Attach starts a session on an established connection. The connector side
// sends OPEN. Both sides advertise their table.
func (r *BgpRouter) Attach(neigh state.RouterId, conn net.Conn, role Role) (*Session, error) {
	if err := r.Env.Context.Err(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	s := NewSession(neigh, role, conn)
	old, err := r.Sessions.Attach(s)
	if err != nil {
		r.Log(SessionCollision, "closing duplicate connection", "neighbour", neigh, "role", role)
		_ = conn.Close()
		return nil, err
	}
	if old != nil {
		r.Log(SessionReplaced, "replacing session", "neighbour", neigh, "old", old.String())
		_ = old.Close()
	}
	if ttl := r.Env.Bgp.TTL; ttl > 0 {
		if err := setTTL(conn, ttl); err != nil {
			r.log.Debug("cannot set ttl", "neighbour", neigh, "error", err)
		}
	}
	r.log.Info("session up", "neighbour", neigh, "role", role)
	r.Log(SessionUp, "session attached", "neighbour", neigh, "role", role, "session", s.String())
	r.updateGauges()

	r.conns.Add(2)
	go func() {
		defer r.conns.Done()
		if role == RoleConnector {
			open := protocol.NewOpen(r.Env.Self.Ip, r.AS, uint16(r.Env.Bgp.HoldTimer))
			if err := r.write(s, open); err != nil {
				return
			}
		}
		AdvertiseTable(r.RouterState, r, neigh)
	}()
	go func() {
		defer r.conns.Done()
		r.receiveLoop(s)
	}()
	return s, nil
}

// receiveLoop processes one session's messages in arrival order. Any error
// ends the loop; the session itself is only reclaimed by the hold timer.
func (r *BgpRouter) receiveLoop(s *Session) {
	defer s.Close()
	for {
		msg, err := protocol.ReadMessage(s.Conn)
		if err != nil {
			r.sessionFault(s, err)
			return
		}
		if r.Sessions.Current(s.Neighbour) != s {
			r.log.Debug("dropping message for displaced session", "session", s.String())
			return
		}
		start := time.Now()
		r.dispatch(s, msg)
		perf.DispatchLatency.Add(float64(time.Since(start).Microseconds()))
	}
}

func (r *BgpRouter) sessionFault(s *Session, err error) {
	switch {
	case protocol.IsUnsupported(err):
		perf.SessionFaults.WithLabelValues(r.label, "unsupported").Inc()
		r.Log(UnsupportedFeature, "peer used an unsupported feature", "neighbour", s.Neighbour, "error", err)
		r.notify(s, &protocol.Notification{Major: NotifUpdateMessage, Minor: NotifMalformedAttrList})
	case protocol.IsDecodeFault(err):
		perf.SessionFaults.WithLabelValues(r.label, "decode").Inc()
		r.Log(DecodeFault, "malformed message", "neighbour", s.Neighbour, "error", err)
		r.notify(s, &protocol.Notification{Major: NotifMessageHeader, Data: []byte(err.Error())})
	case s.IsClosed() || r.Env.Context.Err() != nil:
		r.log.Debug("session closed", "session", s.String())
	default:
		perf.SessionFaults.WithLabelValues(r.label, "connection").Inc()
		r.log.Info("connection lost", "neighbour", s.Neighbour, "error", err)
	}
}

// notification error codes
const (
	NotifMessageHeader     = 1
	NotifUpdateMessage     = 3
	NotifMalformedAttrList = 1
)

// notify sends a best effort NOTIFICATION before the session is closed
func (r *BgpRouter) notify(s *Session, n *protocol.Notification) {
	if len(n.Data) > 64 {
		n.Data = n.Data[:64]
	}
	_ = r.write(s, n)
}

func (r *BgpRouter) dispatch(s *Session, msg protocol.Message) {
	perf.MsgsRecvPerSec.Add(1)
	perf.BytesRecvPerSec.Add(float64(msg.Len()))
	perf.MessagesReceived.WithLabelValues(r.label, msg.Type().String()).Inc()
	switch m := msg.(type) {
	case *protocol.Keepalive:
		r.Sessions.Touch(s)
	case *protocol.Open:
		r.Sessions.RecordOpen(s, m)
		r.Log(OpenReceived, "open", "neighbour", s.Neighbour, "as", m.AS, "hold", m.HoldTime, "id", m.Identifier)
	case *protocol.Update:
		perf.UpdatesPerSec.Add(1)
		HandleUpdate(r.RouterState, r, s.Neighbour, m)
		r.updateGauges()
	case *protocol.Withdraw:
		HandleWithdraw(r.RouterState, r, s.Neighbour, m.Networks)
		r.updateGauges()
	case *protocol.Notification:
		r.log.Info("notification received", "neighbour", s.Neighbour, "code", m.Major, "subcode", m.Minor)
		r.Log(NotificationReceived, "notification", "neighbour", s.Neighbour, "code", m.Major, "subcode", m.Minor)
	}
}

func (r *BgpRouter) write(s *Session, m protocol.Message) error {
	err := s.WriteMsg(m)
	if err != nil {
		if !s.IsClosed() {
			r.Log(SendFailed, "write failed", "neighbour", s.Neighbour, "type", m.Type(), "error", err)
		}
		return err
	}
	perf.MessagesSent.WithLabelValues(r.label, m.Type().String()).Inc()
	return nil
}

func (r *BgpRouter) SendUpdate(neigh state.RouterId, asPath []uint16, networks []netip.Prefix) {
	s := r.Sessions.Current(neigh)
	if s == nil {
		return
	}
	for start := 0; start < len(networks); start += maxNlriPerUpdate {
		end := min(start+maxNlriPerUpdate, len(networks))
		upd := &protocol.Update{
			Attributes: []protocol.PathAttribute{
				protocol.NewOriginAttr(protocol.OriginIGP),
				protocol.NewAsPathAttr(asPath...),
				protocol.NewNextHopAttr(r.Env.Self.Ip),
			},
			NLRI: networks[start:end],
		}
		if r.write(s, upd) != nil {
			return
		}
	}
}

func (r *BgpRouter) SendWithdraw(neigh state.RouterId, networks []netip.Prefix) {
	s := r.Sessions.Current(neigh)
	if s == nil {
		return
	}
	perf.WithdrawalPerSec.Add(1)
	for start := 0; start < len(networks); start += maxNlriPerUpdate {
		end := min(start+maxNlriPerUpdate, len(networks))
		if r.write(s, &protocol.Withdraw{Networks: networks[start:end]}) != nil {
			return
		}
	}
}

func (r *BgpRouter) LiveNeighbours() []state.RouterId {
	return r.Sessions.Neighbours()
}

func (r *BgpRouter) Log(event RouterEvent, desc string, args ...any) {
	msg := fmt.Sprintf("%s %s", event.String(), desc)
	if event.IsWarn() {
		r.log.Warn(msg, args...)
	} else {
		r.log.Debug(msg, args...)
	}
	if event == UpdateRejected {
		perf.RejectedPerSec.Add(1)
		if len(args) >= 2 {
			perf.UpdatesRejected.WithLabelValues(r.label, fmt.Sprint(args[1])).Inc()
		}
	}
	r.Events.Publish(Event{
		Type:   event,
		Router: r.Id,
		Time:   r.Env.Clock.Now(),
		Desc:   desc,
		Args:   args,
	})
}

func (r *BgpRouter) sendKeepalives() {
	for _, s := range r.Sessions.Live() {
		_ = r.write(s, &protocol.Keepalive{})
	}
}

// detectFailures declares every neighbour silent for longer than the hold
// timer down and purges its routes.
func (r *BgpRouter) detectFailures() {
	for _, s := range r.Sessions.Expire(r.Env.Bgp.HoldDuration()) {
		_ = s.Close()
		r.log.Info("neighbour down, hold timer expired", "neighbour", s.Neighbour)
		r.Log(SessionDown, "hold timer expired", "neighbour", s.Neighbour)
		PurgeNeighbour(r.RouterState, r, s.Neighbour)
	}
	r.updateGauges()
}

// exchangeVotes feeds one round of votes into the trust model. Neighbours
// that are down, or that the policy has no opinion on, decay instead.
func (r *BgpRouter) exchangeVotes() {
	votes := r.Voting.Exchange()
	for _, n := range r.Voting.Neighbours {
		vote, ok := votes[n]
		if ok && !r.Sessions.IsDown(n) {
			v := r.Trust.UpdateVotedTrust(n, vote)
			r.Log(VoteApplied, "vote", "neighbour", n, "vote", vote, "voted", v)
			continue
		}
		if v, decayed := r.Trust.Decay(n, r.Env.Trust.DecayRate); decayed {
			r.Log(TrustDecayed, "decay", "neighbour", n, "voted", v)
		}
	}
	for id, score := range r.Trust.Snapshot() {
		perf.Trust.WithLabelValues(r.label, strconv.Itoa(int(id))).Set(score.Blend)
	}
}

func (r *BgpRouter) updateGauges() {
	perf.Routes.WithLabelValues(r.label).Set(float64(r.Table.Len()))
	perf.Sessions.WithLabelValues(r.label).Set(float64(r.Sessions.Len()))
}
