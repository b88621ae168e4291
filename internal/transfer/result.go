package transfer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"deploy-reloaded/internal/plugin"
	"deploy-reloaded/internal/util"
)

// Operation names one orchestrated verb.
type Operation string

const (
	OpDeploy Operation = "deploy"
	OpPull   Operation = "pull"
	OpDelete Operation = "delete"
)

// Capability returns the plugin capability that serves the operation.
func (o Operation) Capability() plugin.Capability {
	switch o {
	case OpPull:
		return plugin.CapDownload
	case OpDelete:
		return plugin.CapDelete
	default:
		return plugin.CapUpload
	}
}

// past tense for summaries: "deployed 3 files ..."
func (o Operation) past() string {
	switch o {
	case OpPull:
		return "pulled"
	case OpDelete:
		return "deleted"
	default:
		return "deployed"
	}
}

// State is the overall outcome of an operation.
type State string

const (
	StateSucceeded State = "succeeded"
	StatePartial   State = "partial"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	// StateSkipped means no plugin could serve the target type. The
	// operation is a warning, not an error.
	StateSkipped State = "skipped"
)

// FileResult is one file's outcome in one plugin pass. A file handled
// by two plugins produces two entries.
type FileResult struct {
	Rel  string
	Size int64
	Err  error
}

// Result collects what one operation did. Plugins report through the
// descriptor callbacks, which may run concurrently.
type Result struct {
	ID        string
	Operation Operation
	Target    string
	Package   string
	Started   time.Time

	mu        sync.Mutex
	duration  time.Duration
	plugins   int
	cancelled bool
	files     []FileResult
	errs      *multierror.Error
}

func newResult(op Operation, target, pkg string) *Result {
	return &Result{
		ID:        uuid.NewString(),
		Operation: op,
		Target:    target,
		Package:   pkg,
		Started:   time.Now(),
	}
}

func (r *Result) recordFile(fr FileResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, fr)
}

func (r *Result) recordError(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = multierror.Append(r.errs, err)
}

func (r *Result) markCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

func (r *Result) setPlugins(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = n
}

func (r *Result) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duration = time.Since(r.Started)
}

// Files returns a copy of the per-file outcomes.
func (r *Result) Files() []FileResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]FileResult, len(r.files))
	copy(out, r.files)
	return out
}

// Duration is how long the operation ran, session wait included.
func (r *Result) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

// Err returns the combined operation-level and per-file errors, nil
// when everything succeeded.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var combined *multierror.Error
	combined = multierror.Append(combined, r.errs.WrappedErrors()...)
	for _, f := range r.files {
		if f.Err != nil {
			combined = multierror.Append(combined, fmt.Errorf("%s: %w", f.Rel, f.Err))
		}
	}
	return combined.ErrorOrNil()
}

func (r *Result) counts() (ok, failed int, bytes int64) {
	for _, f := range r.files {
		if f.Err != nil {
			failed++
			continue
		}
		ok++
		bytes += f.Size
	}
	return ok, failed, bytes
}

// State derives the overall outcome.
func (r *Result) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	ok, failed, _ := r.counts()
	switch {
	case r.cancelled:
		return StateCancelled
	case r.plugins == 0:
		return StateSkipped
	case failed == 0 && r.errs.ErrorOrNil() == nil:
		return StateSucceeded
	case ok > 0:
		return StatePartial
	default:
		return StateFailed
	}
}

// Summary renders the one-line console outcome, e.g.
// "deployed 3 files (1.4 MB) to staging in 240ms, 1 failed".
func (r *Result) Summary() string {
	r.mu.Lock()
	ok, failed, bytes := r.counts()
	dur := r.duration
	cancelled := r.cancelled
	plugins := r.plugins
	r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", r.Operation.past(), util.Plural(ok, "file", "files"))
	if bytes > 0 {
		fmt.Fprintf(&b, " (%s)", util.FormatBytes(bytes))
	}
	switch r.Operation {
	case OpPull:
		fmt.Fprintf(&b, " from %s", r.Target)
	case OpDelete:
		fmt.Fprintf(&b, " on %s", r.Target)
	default:
		fmt.Fprintf(&b, " to %s", r.Target)
	}
	fmt.Fprintf(&b, " in %s", util.FormatDuration(dur))
	if failed > 0 {
		fmt.Fprintf(&b, ", %d failed", failed)
	}
	if cancelled {
		b.WriteString(" (cancelled)")
	}
	if plugins > 1 {
		fmt.Fprintf(&b, " via %d plugins", plugins)
	}
	return b.String()
}
