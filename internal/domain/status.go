package domain

// Status is the single source of truth for what must happen next to a
// Dataset. Every write to it goes through a compare-and-set keyed on the
// previously observed value (see repository.DatasetRepository.CompareAndSetStatus).
type Status string

const (
	StatusSubmitted        Status = "submitted"
	StatusUploadQueued     Status = "upload queued"
	StatusUploading        Status = "uploading"
	StatusUnzipping        Status = "unzipping"
	StatusSyncQueued       Status = "sync queued"
	StatusSyncing          Status = "syncing"
	StatusConversionQueued Status = "conversion queued"
	StatusConverting       Status = "converting"
	StatusDone             Status = "done"
	StatusUploadError      Status = "upload error"
	StatusSyncError        Status = "sync error"
	StatusConversionError  Status = "conversion error"
	StatusConversionFailed Status = "conversion failed"
	StatusCancelled        Status = "cancelled"
)

// transitions is the static table of valid status moves.
// StatusMachine.Advance consults it before issuing the compare-and-set; the
// Conversion Dispatcher and the reconcilers in package dispatch call the
// repository's compare-and-set directly, and every status change they make
// is one declared here (including the stale-claim rewinds back to a queued
// status).
var transitions = map[Status][]Status{
	StatusSubmitted:        {StatusUploadQueued, StatusSyncQueued, StatusConversionQueued, StatusCancelled},
	StatusUploadQueued:     {StatusUploading, StatusUploadError, StatusCancelled},
	StatusUploading:        {StatusUnzipping, StatusConversionQueued, StatusDone, StatusUploadQueued, StatusUploadError, StatusCancelled},
	StatusUnzipping:        {StatusConversionQueued, StatusUploadError, StatusCancelled},
	StatusSyncQueued:       {StatusSyncing, StatusSyncError, StatusCancelled},
	StatusSyncing:          {StatusConversionQueued, StatusDone, StatusSyncQueued, StatusSyncError, StatusCancelled},
	StatusConversionQueued: {StatusConverting, StatusConversionError, StatusCancelled},
	StatusConverting:       {StatusDone, StatusConversionQueued, StatusConversionError, StatusConversionFailed, StatusCancelled},
	StatusUploadError:      {StatusUploadQueued, StatusConversionFailed, StatusCancelled},
	StatusSyncError:        {StatusSyncQueued, StatusConversionFailed, StatusCancelled},
	StatusConversionError:  {StatusConversionQueued, StatusConversionFailed, StatusCancelled},
	StatusDone:             {},
	StatusConversionFailed: {},
	StatusCancelled:        {},
}

// terminal is the set of statuses the dispatcher ignores.
var terminal = map[Status]bool{
	StatusDone:             true,
	StatusConversionFailed: true,
	StatusCancelled:        true,
}

// IsTerminal reports whether the dispatcher should stop watching a dataset
// carrying this status.
func (s Status) IsTerminal() bool {
	return terminal[s]
}

// CanTransition reports whether the static table allows moving from s to
// next. It does not touch storage; it is the pure predicate that
// StatusMachine.Advance consults before issuing the update.
func (s Status) CanTransition(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a status drawn from the declared set.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
