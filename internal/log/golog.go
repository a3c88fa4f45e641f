package log

import "github.com/kataras/golog"

// GologLogger bridges Logger onto a golog.Logger, for hosts that already
// standardize on golog elsewhere in their process. Unlike StdLogger it keeps
// no level of its own: golog gates by its own configured level, so a bridge
// and direct golog callers in the same process always agree on what is
// emitted.
type GologLogger struct {
	g *golog.Logger
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger wraps an existing golog.Logger.
func NewGologLogger(g *golog.Logger) *GologLogger {
	return &GologLogger{g: g}
}

func (l *GologLogger) Debug(format string, v ...any) { l.g.Debugf(format, v...) }
func (l *GologLogger) Info(format string, v ...any)  { l.g.Infof(format, v...) }
func (l *GologLogger) Warn(format string, v ...any)  { l.g.Warnf(format, v...) }
func (l *GologLogger) Error(format string, v ...any) { l.g.Errorf(format, v...) }

// SetVerbose maps the configuration's verbose toggle onto golog's level,
// mirroring ForVerbose for the golog-backed path.
func (l *GologLogger) SetVerbose(verbose bool) {
	if verbose {
		l.g.SetLevel("debug")
		return
	}
	l.g.SetLevel("warn")
}
