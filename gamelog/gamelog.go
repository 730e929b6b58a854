// Package gamelog provides the leveled logger every other package takes as a
// dependency, wrapping pterm the same way the teacher's CLI dashboard and
// network.Peer use it for warnings and info lines.
package gamelog

import "github.com/pterm/pterm"

// Logger is the interface library code depends on. Production code should
// take a Logger, not a concrete type, so tests can swap in Nop.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Pterm is the default Logger, printing through pterm's styled printers.
type Pterm struct {
	// Prefix tags every line, e.g. with the peer's identity.
	Prefix string
}

func (p Pterm) line(format string, args ...any) string {
	if p.Prefix == "" {
		return pterm.Sprintf(format, args...)
	}
	return p.Prefix + ": " + pterm.Sprintf(format, args...)
}

func (p Pterm) Debugf(format string, args ...any) { pterm.Debug.Println(p.line(format, args...)) }
func (p Pterm) Infof(format string, args ...any)  { pterm.Info.Println(p.line(format, args...)) }
func (p Pterm) Warnf(format string, args ...any)  { pterm.Warning.Println(p.line(format, args...)) }
func (p Pterm) Errorf(format string, args ...any) { pterm.Error.Println(p.line(format, args...)) }

// Nop discards everything; useful for tests that don't want log noise.
type Nop struct{}

func (Nop) Debugf(string, ...any) {}
func (Nop) Infof(string, ...any)  {}
func (Nop) Warnf(string, ...any)  {}
func (Nop) Errorf(string, ...any) {}
