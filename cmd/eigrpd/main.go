// Command eigrpd is a thin demo harness around package eigrp: it wires a
// programmatic AS instance to an in-memory FIB, a single static keychain,
// and a permit-all filter, then runs it until interrupted. It is not the
// operator CLI the core specification places out of scope (§1) — just
// enough command-line surface to stand up a speaker on a box and watch it
// form adjacencies.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/gsim047/eigrpd/eigrp"
	"github.com/gsim047/eigrpd/internal/eigrplog"
	"github.com/gsim047/eigrpd/internal/metrics"
	"github.com/gsim047/eigrpd/internal/rawsock"
	"github.com/gsim047/eigrpd/packet"
	"github.com/gsim047/eigrpd/topology"
)

// flags bundles every command-line flag; pflag parses directly into it,
// the way caddy's cmd package binds cobra/pflag flags to package-level
// vars per subcommand.
type flags struct {
	asNumber   uint16
	routerID   string
	k1, k2, k3 uint32
	k4, k5     uint32
	variance   uint32
	activeTime time.Duration
	metricsaddr string

	ifaceName    string
	ifaceAddr    string
	ifaceBW      uint32
	ifaceDelay   uint32
	helloInt     time.Duration
	holdTime     time.Duration
	authKind     string
	keychainName string
	sharedSecret string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "eigrpd",
		Short: "run a single-process EIGRP speaker against one interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), f)
		},
	}
	bindFlags(cmd.Flags(), f)
	return cmd
}

func bindFlags(fs *pflag.FlagSet, f *flags) {
	fs.Uint16Var(&f.asNumber, "as", 100, "EIGRP autonomous system number")
	fs.StringVar(&f.routerID, "router-id", "1.1.1.1", "router ID, as an IPv4 address")
	fs.Uint32Var(&f.k1, "k1", 1, "K1 metric weight")
	fs.Uint32Var(&f.k2, "k2", 0, "K2 metric weight")
	fs.Uint32Var(&f.k3, "k3", 1, "K3 metric weight")
	fs.Uint32Var(&f.k4, "k4", 0, "K4 metric weight")
	fs.Uint32Var(&f.k5, "k5", 0, "K5 metric weight")
	fs.Uint32Var(&f.variance, "variance", 1, "DUAL variance for feasible-successor selection")
	fs.DurationVar(&f.activeTime, "active-time", 3*time.Minute, "SIA active-time limit")
	fs.StringVar(&f.metricsaddr, "metrics-addr", ":9100", "address to serve Prometheus /metrics on")

	fs.StringVar(&f.ifaceName, "iface", "eth0", "interface name to speak EIGRP on")
	fs.StringVar(&f.ifaceAddr, "iface-addr", "", "interface IPv4 address/prefix-length, e.g. 10.0.0.1/24")
	fs.Uint32Var(&f.ifaceBW, "iface-bandwidth", 100000, "interface bandwidth in kbit/sec")
	fs.Uint32Var(&f.ifaceDelay, "iface-delay", 10, "interface delay in tens of microseconds")
	fs.DurationVar(&f.helloInt, "hello-interval", 5*time.Second, "Hello interval")
	fs.DurationVar(&f.holdTime, "hold-time", 15*time.Second, "hold time before a silent neighbor is declared down")
	fs.StringVar(&f.authKind, "auth", "none", "authentication mode: none, md5, or sha256")
	fs.StringVar(&f.keychainName, "keychain", "", "keychain name referenced by the AUTH TLV")
	fs.StringVar(&f.sharedSecret, "secret", "", "shared secret for the demo keychain (required unless --auth=none)")
}

func run(ctx context.Context, f *flags) error {
	log, err := eigrplog.New()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	routerID, err := netip.ParseAddr(f.routerID)
	if err != nil || !routerID.Is4() {
		return fmt.Errorf("--router-id must be an IPv4 address: %w", err)
	}
	ifaceAddr, err := netip.ParsePrefix(f.ifaceAddr)
	if err != nil {
		return fmt.Errorf("--iface-addr must be an IPv4 CIDR, e.g. 10.0.0.1/24: %w", err)
	}
	ifIndex, err := rawsock.InterfaceIndex(f.ifaceName)
	if err != nil {
		return fmt.Errorf("resolving --iface %q: %w", f.ifaceName, err)
	}
	authKind, err := parseAuthKind(f.authKind)
	if err != nil {
		return err
	}
	if authKind != packet.AuthNone && f.sharedSecret == "" {
		return fmt.Errorf("--secret is required unless --auth=none")
	}

	reg := metrics.New()
	fib := newLoggingFIB(log)
	keychain := newStaticKeychain(f.keychainName, f.sharedSecret)

	rid4 := routerID.As4()
	as, err := eigrp.New(eigrp.Config{
		ASNumber:   f.asNumber,
		RouterID:   binary.BigEndian.Uint32(rid4[:]),
		K:          topology.KValues{K1: f.k1, K2: f.k2, K3: f.k3, K4: f.k4, K5: f.k5},
		Variance:   f.variance,
		ActiveTime: f.activeTime,
		FIB:        fib,
		KeyLookup:  keychain.lookup,
		Filter:     permitAll,
		Log:        log,
		Metrics:    reg,
	})
	if err != nil {
		return fmt.Errorf("constructing AS: %w", err)
	}

	if _, err := as.AddInterface(eigrp.InterfaceConfig{
		Name: f.ifaceName, Index: ifIndex,
		LocalAddr: ifaceAddr.Addr(), Network: ifaceAddr,
		Bandwidth: f.ifaceBW, Delay: f.ifaceDelay,
		HelloInterval: f.helloInt, HoldTime: f.holdTime,
		AuthKind: authKind, KeychainName: f.keychainName,
	}); err != nil {
		return fmt.Errorf("adding interface %s: %w", f.ifaceName, err)
	}

	srv := serveMetrics(f.metricsaddr, reg, log)
	defer srv.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("eigrpd starting",
		zap.Uint16("as", f.asNumber), zap.String("router-id", f.routerID),
		zap.String("interface", f.ifaceName), zap.Stringer("network", ifaceAddr))
	return as.Run(ctx)
}

func parseAuthKind(s string) (packet.AuthKind, error) {
	switch s {
	case "none", "":
		return packet.AuthNone, nil
	case "md5":
		return packet.AuthMD5, nil
	case "sha256":
		return packet.AuthSHA256, nil
	default:
		return packet.AuthNone, fmt.Errorf("unknown --auth %q (want none, md5, or sha256)", s)
	}
}

func serveMetrics(addr string, reg *metrics.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Warn("metrics listener failed, continuing without /metrics", zap.Error(err))
		return srv
	}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	return srv
}

func permitAll(netip.Prefix, eigrp.Direction, eigrp.Scope) bool { return true }
