package linker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pattyshack/gt/parseutil"
)

var (
	ErrIncompatibleFlags = errors.New("incompatible object file flags")
	ErrMissingCompanion  = errors.New("missing companion relocation")
	ErrUnknownRelocation = errors.New("unknown relocation")
	ErrShrinkTooLarge    = errors.New("section size decrease is too large")
	ErrNotConverged      = errors.New("relaxation did not converge")
)

// Site locates a relocation for diagnostics.
type Site struct {
	File    string
	Section string
	Offset  uint64
	Symbol  string

	// PCCRelative is set when Symbol is reached through the program
	// counter capability.
	PCCRelative bool
}

func (s Site) String() string {
	return fmt.Sprintf("%s:(%s+0x%x)", s.File, s.Section, s.Offset)
}

type SiteError struct {
	Site
	Msg string
}

func (e *SiteError) Error() string {
	return e.Site.String() + ": " + e.Msg
}

// Diagnostics collects recoverable errors so one run surfaces every bad
// site. Fatal conditions are returned as errors instead.
type Diagnostics struct {
	mu       sync.Mutex
	emitter  *parseutil.Emitter
	warnings []string
	logger   *slog.Logger
}

func NewDiagnostics(logger *slog.Logger) *Diagnostics {
	return &Diagnostics{
		emitter: &parseutil.Emitter{},
		logger:  logger,
	}
}

func (d *Diagnostics) Error(site Site, format string, args ...any) {
	err := &SiteError{Site: site, Msg: fmt.Sprintf(format, args...)}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.emitter.EmitErrors(err)
}

func (d *Diagnostics) Warn(site Site, format string, args ...any) {
	msg := site.String() + ": " + fmt.Sprintf(format, args...)

	d.mu.Lock()
	d.warnings = append(d.warnings, msg)
	d.mu.Unlock()

	d.logger.Warn(msg)
}

// Fatal wraps kind with a message; the caller stops and returns it.
func (d *Diagnostics) Fatal(kind error, format string, args ...any) error {
	err := fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
	d.logger.Error(err.Error())
	return err
}

func (d *Diagnostics) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.emitter.Errors()
}

func (d *Diagnostics) HasErrors() bool {
	return len(d.Errors()) > 0
}

func (d *Diagnostics) Warnings() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.warnings...)
}
