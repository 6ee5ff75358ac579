// Package eigrplog sets up the structured logger threaded through every
// subsystem, in the style caddyserver/caddy wires a single *zap.Logger
// through its modules via .Named.
package eigrplog

import (
	"github.com/rs/xid"
	"go.uber.org/zap"
)

// New builds a production zap.Logger. Callers scope it per subsystem with
// Named, e.g. New().Named("neighbor").
func New() (*zap.Logger, error) {
	return zap.NewProduction()
}

// Nop returns a logger that discards everything, used by tests the way
// the teacher's Nil log type stands in for a no-op logger.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Tick returns a short correlation id for one scheduler tick (§4.G), so
// every log line emitted while processing a single inbound packet or
// timer fire can be grepped together.
func Tick() string {
	return xid.New().String()
}
