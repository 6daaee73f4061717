package models

// ProgressListener receives progress from a long-running pass. SetProgress
// returning false asks the pass to stop; the pass then finishes with
// Finished(false) and returns ErrAborted.
type ProgressListener interface {
	SetTotal(total int)
	SetProgress(progress int) bool
	Finished(success bool)
}

// ProgressFuncs adapts plain functions to ProgressListener. Nil fields are
// treated as no-ops and a nil OnProgress never cancels.
type ProgressFuncs struct {
	OnTotal    func(total int)
	OnProgress func(progress int) bool
	OnFinished func(success bool)
}

// SetTotal implements ProgressListener.
func (p ProgressFuncs) SetTotal(total int) {
	if p.OnTotal != nil {
		p.OnTotal(total)
	}
}

// SetProgress implements ProgressListener.
func (p ProgressFuncs) SetProgress(progress int) bool {
	if p.OnProgress != nil {
		return p.OnProgress(progress)
	}
	return true
}

// Finished implements ProgressListener.
func (p ProgressFuncs) Finished(success bool) {
	if p.OnFinished != nil {
		p.OnFinished(success)
	}
}

// NopProgress is a listener that ignores everything and never cancels.
var NopProgress ProgressListener = ProgressFuncs{}
