package eigrp

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gsim047/eigrpd/dual"
	"github.com/gsim047/eigrpd/internal/eigrplog"
	"github.com/gsim047/eigrpd/internal/metrics"
	"github.com/gsim047/eigrpd/internal/rawsock"
	"github.com/gsim047/eigrpd/internal/sched"
	"github.com/gsim047/eigrpd/internal/xtimer"
	"github.com/gsim047/eigrpd/neighbor"
	"github.com/gsim047/eigrpd/routesink"
	"github.com/gsim047/eigrpd/topology"
	"github.com/gsim047/eigrpd/transport"
)

// siaTickInterval is how often every currently-ACTIVE prefix's SIA
// watchdog is re-evaluated (§4.E). It is independent of activeTime itself,
// which only sets the half-time/full-time thresholds the tick compares
// against.
const siaTickInterval = 10 * time.Second

// Config bundles an AS instance's construction parameters (§3, §6).
type Config struct {
	ASNumber   uint16
	RouterID   uint32
	K          topology.KValues
	Variance   uint32
	ActiveTime time.Duration

	FIB       FIBInstaller
	KeyLookup KeyLookup
	Filter    FilterFunc

	Log     *zap.Logger
	Metrics *metrics.Registry
}

// rawSender is the subset of *rawsock.Socket the AS instance drives.
// Carved out so tests can inject a fake in place of an actual raw IP
// socket, which requires elevated privileges to open (§6).
type rawSender interface {
	SendTo(b []byte, dst netip.Addr) error
	Recv(buf []byte) (int, netip.Addr, error)
	JoinGroup(ifIndex int) error
	Close() error
}

// neighborRecord bundles the neighbor FSM with the bits AS needs that
// don't belong in package neighbor (its owning interface, for computing a
// forwarding next hop when it becomes a successor).
type neighborRecord struct {
	fsm  *neighbor.Neighbor
	addr netip.Addr
	iff  *Interface
}

// AS is one running EIGRP process: the process-wide singleton described in
// §3. It owns exactly the state internal/sched.Loop's goroutine is allowed
// to touch; every public method that mutates state posts itself onto the
// loop rather than running inline, mirroring §5's single-writer rule.
type AS struct {
	asNumber   uint16
	routerID   uint32
	k          topology.KValues
	variance   uint32
	activeTime time.Duration

	log     *zap.Logger
	metrics *metrics.Registry

	sock rawSender
	loop *sched.Loop

	table     *topology.Table
	dual      *dual.Engine
	transport *transport.Manager
	sink      *routesink.Sink
	filter    FilterFunc
	keyLookup KeyLookup

	mu          sync.Mutex
	interfaces  map[string]*Interface
	addrToIface map[netip.Addr]*Interface
	neighbors   map[topology.NeighborID]*neighborRecord
	byAddr      map[netip.Addr]topology.NeighborID
	nextNID     topology.NeighborID
	seqCounter  uint32
	siaTimer    *xtimer.Timer

	// pendingIface is set for the duration of a multicast send so Transmit
	// (which only receives a destination address, not an interface) can
	// resolve the egress interface for the IP header's source address.
	// Only ever touched from the scheduler goroutine.
	pendingIface *Interface
}

// New creates an AS instance. It does not open the raw socket or start
// the scheduler loop; call Run for that.
func New(cfg Config) (*AS, error) {
	log := cfg.Log
	if log == nil {
		log = eigrplog.Nop()
	}
	if cfg.Variance == 0 {
		cfg.Variance = 1
	}
	if cfg.ActiveTime == 0 {
		cfg.ActiveTime = 3 * time.Minute
	}

	a := &AS{
		asNumber:    cfg.ASNumber,
		routerID:    cfg.RouterID,
		k:           cfg.K,
		variance:    cfg.Variance,
		activeTime:  cfg.ActiveTime,
		log:         log.Named("eigrp"),
		metrics:     cfg.Metrics,
		filter:      cfg.Filter,
		keyLookup:   cfg.KeyLookup,
		table:       topology.New(),
		interfaces:  make(map[string]*Interface),
		addrToIface: make(map[netip.Addr]*Interface),
		neighbors:   make(map[topology.NeighborID]*neighborRecord),
		byAddr:      make(map[netip.Addr]topology.NeighborID),
		loop:        sched.New(0),
	}
	a.sink = routesink.New(cfg.FIB, cfg.Metrics, log)
	a.transport = transport.New(transport.Config{
		Sender:   a,
		Teardown: a,
		Metrics:  cfg.Metrics,
		Log:      log,
	})
	a.dual = dual.New(dual.Config{
		Table:      a.table,
		K:          cfg.K,
		Variance:   cfg.Variance,
		ActiveTime: cfg.ActiveTime,
		Notifier:   a,
		Sink:       a,
		OutFilter:  a.outFilter,
		Metrics:    cfg.Metrics,
		Log:        log,
	})
	return a, nil
}

// AddInterface configures an interface and starts sending Hellos on it.
// Must be called before Run.
func (a *AS) AddInterface(cfg InterfaceConfig) (*Interface, error) {
	if cfg.HelloInterval == 0 {
		cfg.HelloInterval = 5 * time.Second
	}
	if cfg.HoldTime == 0 {
		cfg.HoldTime = 3 * cfg.HelloInterval
	}
	iface := &Interface{
		Name: cfg.Name, Index: cfg.Index, LocalAddr: cfg.LocalAddr,
		Network: cfg.Network, Bandwidth: cfg.Bandwidth, Delay: cfg.Delay,
		HelloInterval: cfg.HelloInterval, HoldTime: cfg.HoldTime,
		AuthKind: cfg.AuthKind, KeychainName: cfg.KeychainName,
	}
	a.mu.Lock()
	a.interfaces[iface.Name] = iface
	a.addrToIface[iface.LocalAddr] = iface
	a.mu.Unlock()
	return iface, nil
}

// Run opens the raw socket, joins each configured interface's multicast
// group, starts the per-interface Hello timers, and runs the scheduler
// loop until ctx is canceled (§4.G/§5).
func (a *AS) Run(ctx context.Context) error {
	sock, err := rawsock.Open()
	if err != nil {
		return fmt.Errorf("eigrp: opening raw socket: %w", err)
	}
	a.sock = sock
	defer sock.Close()

	a.mu.Lock()
	ifaces := make([]*Interface, 0, len(a.interfaces))
	for _, iff := range a.interfaces {
		ifaces = append(ifaces, iff)
	}
	a.mu.Unlock()

	for _, iff := range ifaces {
		if err := sock.JoinGroup(iff.Index); err != nil {
			a.log.Warn("failed to join multicast group", zap.String("interface", iff.Name), zap.Error(err))
		}
		iff := iff
		a.armHelloTimer(iff)
	}

	a.armSIAWatchdog()
	go a.readLoop(ctx)

	a.loop.Run(ctx)
	return nil
}

func (a *AS) armSIAWatchdog() {
	var fire func()
	fire = func() {
		a.loop.Post(a.runSIAWatchdog)
		if a.siaTimer != nil {
			a.siaTimer.Reset()
		}
	}
	a.siaTimer = xtimer.New(siaTickInterval, fire)
}

func (a *AS) runSIAWatchdog() {
	for _, e := range a.table.All() {
		if e.State.IsActive() {
			a.dual.SIAWatchdogTick(e.Prefix)
		}
	}
}

func (a *AS) armHelloTimer(iff *Interface) {
	var fire func()
	fire = func() {
		a.loop.Post(func() { a.sendHello(iff) })
		if iff.helloTimer != nil {
			iff.helloTimer.Reset()
		}
	}
	iff.helloTimer = newHelloTimer(iff.HelloInterval, fire)
}

// readLoop blocks on the raw socket and hands each datagram to the
// scheduler loop; it is the only goroutine besides the loop itself and
// per-neighbor retransmit timers (which also only ever call Post/their
// owning package's exported methods).
func (a *AS) readLoop(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, src, err := a.sock.Recv(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			a.log.Warn("raw socket read failed", zap.Error(err))
			continue
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		a.loop.Post(func() { a.handleInbound(src, datagram) })
	}
}

func (a *AS) outFilter(prefix netip.Prefix, _ dual.Direction) bool {
	if a.filter == nil {
		return true
	}
	return a.filter(prefix, DirectionOut, ScopeInterface)
}
