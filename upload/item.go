package upload

// Phase is the lifecycle stage of one tracked file.
type Phase string

// Item phases, in pipeline order.
const (
	// PhaseUploading: session opened, parts in flight.
	PhaseUploading Phase = "uploading"
	// PhaseQueued: all parts stored and the session finalized, ingestion not yet acknowledged.
	PhaseQueued Phase = "queued"
	// PhaseProcessing: the backend is splitting and validating the document.
	PhaseProcessing Phase = "processing"
	PhaseDone       Phase = "done"
	PhaseError      Phase = "error"
)

// Terminal reports whether the phase can change no further.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError
}

// Item tracks one enqueued file for the lifetime of the tray.
//
// Sent and Total are bytes transferred out of total bytes while the item is
// uploading, and pages processed out of total pages once it is processing:
// check Phase before interpreting them. PageCount carries the page total
// explicitly and stays nil until the backend has determined it.
type Item struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	Filename string `json:"filename"`
	Phase    Phase  `json:"phase"`
	Sent     int64  `json:"sent"`
	Total    int64  `json:"total"`
	// Error is the last failure message; set only in the error phase.
	Error string `json:"error,omitempty"`
	// Key is the storage object key, known once the upload session is opened.
	Key       string `json:"key,omitempty"`
	PageCount *int64 `json:"page_count"`
}
