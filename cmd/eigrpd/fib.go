package main

import (
	"net/netip"
	"sync"

	"go.uber.org/zap"
)

// loggingFIB is a demo FIBInstaller (§6) that only logs every install and
// withdraw rather than touching a real kernel routing table; it stands in
// for the route-redistribution bridge the core specification places out
// of scope (§1).
type loggingFIB struct {
	mu    sync.Mutex
	log   *zap.Logger
	table map[netip.Prefix]netip.Addr
}

func newLoggingFIB(log *zap.Logger) *loggingFIB {
	return &loggingFIB{log: log.Named("fib"), table: make(map[netip.Prefix]netip.Addr)}
}

func (f *loggingFIB) Install(prefix netip.Prefix, nextHop netip.Addr, metric uint32) error {
	f.mu.Lock()
	f.table[prefix] = nextHop
	f.mu.Unlock()
	f.log.Info("route installed",
		zap.Stringer("prefix", prefix), zap.Stringer("next-hop", nextHop), zap.Uint32("metric", metric))
	return nil
}

func (f *loggingFIB) Withdraw(prefix netip.Prefix) error {
	f.mu.Lock()
	delete(f.table, prefix)
	f.mu.Unlock()
	f.log.Info("route withdrawn", zap.Stringer("prefix", prefix))
	return nil
}
