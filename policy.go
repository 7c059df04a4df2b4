package cowbackup

// ErrorPolicy is the per-side configuration from §4.G / §6.
type ErrorPolicy int

const (
	// OnErrorReport gives up: the sweep ends with an error, the job
	// completes failed.
	OnErrorReport ErrorPolicy = iota
	// OnErrorIgnore retries the failing cluster indefinitely.
	OnErrorIgnore
	// OnErrorStop pauses the job (externally resumed via Job.Resume), then
	// retries.
	OnErrorStop
	// OnErrorENOSPC behaves as OnErrorStop iff the error is "no space",
	// else as OnErrorReport.
	OnErrorENOSPC
)

func (p ErrorPolicy) String() string {
	switch p {
	case OnErrorReport:
		return "report"
	case OnErrorIgnore:
		return "ignore"
	case OnErrorStop:
		return "stop"
	case OnErrorENOSPC:
		return "enospc"
	default:
		return "unknown"
	}
}

// errorAction is the resolved decision for a single failure, after an
// OnErrorENOSPC policy has been collapsed against the actual error (§4.G).
type errorAction int

const (
	actionReport errorAction = iota
	actionIgnore
	actionStop
)

// resolve collapses a configured ErrorPolicy against an observed error into
// a concrete action. OnErrorENOSPC is the only policy whose action depends
// on the error itself.
func (p ErrorPolicy) resolve(err error) errorAction {
	switch p {
	case OnErrorIgnore:
		return actionIgnore
	case OnErrorStop:
		return actionStop
	case OnErrorENOSPC:
		if IsNoSpace(err) {
			return actionStop
		}
		return actionReport
	default:
		return actionReport
	}
}

// Config is the in-process configuration consumed by Start (§6).
type Config struct {
	// Speed is the target bytes/s budget for the background sweep; 0
	// disables throttling.
	Speed int64

	// OnSourceError governs the sweep's reaction to source-read failures.
	OnSourceError ErrorPolicy

	// OnTargetError governs the sweep's reaction to target-write failures.
	OnTargetError ErrorPolicy
}

// validate rejects, at start time, a stop/enospc source policy when source
// has no I/O-status reporting enabled (§4.G, §4.H step 1).
func (c Config) validate(source Device) error {
	if c.Speed < 0 {
		return NewError("start", ErrCodeInvalidConfig, "speed must be >= 0")
	}
	needsIOStatus := c.OnSourceError == OnErrorStop || c.OnSourceError == OnErrorENOSPC
	if !needsIOStatus {
		return nil
	}
	iostatus, ok := source.(IOStatusDevice)
	if !ok || !iostatus.IOStatusEnabled() {
		return NewError("start", ErrCodeInvalidConfig,
			"on_source_error=stop/enospc requires the source to have I/O-status reporting enabled")
	}
	return nil
}
