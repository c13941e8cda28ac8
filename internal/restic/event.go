package restic

// Kind identifies one decoded event variant.
// Params: none.
// Returns: enum value used for routing and diagnostics.
type Kind string

const (
	// KindStatus is a periodic progress report during a backup run.
	KindStatus Kind = "status"
	// KindSummary is the terminal event for one backup run.
	KindSummary Kind = "summary"
	// KindError is a per-item backup error report.
	KindError Kind = "error"
	// KindVerboseStatus is a per-file action report emitted in verbose mode.
	KindVerboseStatus Kind = "verbose_status"
	// KindUnrecognized is a well-formed record with an unknown discriminant.
	KindUnrecognized Kind = "unrecognized"
)

// Event is one decoded line of the restic JSON progress stream.
// Params: none.
// Returns: tagged variant routed by Kind.
type Event interface {
	Kind() Kind
}

// Status carries in-flight progress counters for the current run.
// Params: fields decoded from one status line. FilesDone and ErrorCount
// are nil when the line omitted them, which restic does while the values
// are zero; nil means "not reported", never "reported as zero".
// Returns: status event value.
type Status struct {
	SecondsElapsed   float64
	SecondsRemaining float64
	PercentDone      float64
	TotalFiles       uint64
	FilesDone        *uint64
	TotalBytes       uint64
	BytesDone        uint64
	ErrorCount       *uint64
	CurrentFiles     []string
}

// Kind returns the status discriminant.
// Params: none.
// Returns: KindStatus.
func (Status) Kind() Kind { return KindStatus }

// Summary carries final totals for one completed backup run.
// Params: fields decoded from the terminal summary line.
// Returns: summary event value.
type Summary struct {
	SnapshotID          string
	TotalFilesProcessed uint64
	TotalBytesProcessed uint64
	TotalDuration       float64
	DataAdded           uint64
	DataBlobs           uint64
	TreeBlobs           uint64
	FilesNew            uint64
	FilesChanged        uint64
	FilesUnmodified     uint64
	DirsNew             uint64
	DirsChanged         uint64
	DirsUnmodified      uint64
}

// Kind returns the summary discriminant.
// Params: none.
// Returns: KindSummary.
func (Summary) Kind() Kind { return KindSummary }

// Error carries one per-item backup error.
// Params: item path, failing action, and optional message.
// Returns: error event value.
type Error struct {
	Item    string
	During  string
	Message string
}

// Kind returns the error discriminant.
// Params: none.
// Returns: KindError.
func (Error) Kind() Kind { return KindError }

// VerboseStatus carries one per-file action report.
// Params: action (new/changed/unchanged/...), item path, size, and timing.
// Returns: verbose status event value.
type VerboseStatus struct {
	Action   string
	Item     string
	Size     uint64
	Duration float64
}

// Kind returns the verbose status discriminant.
// Params: none.
// Returns: KindVerboseStatus.
func (VerboseStatus) Kind() Kind { return KindVerboseStatus }

// Unrecognized is a well-formed record whose discriminant this version
// does not know. It decodes successfully so a forward-incompatible line
// never terminates the stream.
// Params: MessageType preserves the unknown discriminant for logging.
// Returns: unrecognized event value.
type Unrecognized struct {
	MessageType string
}

// Kind returns the unrecognized discriminant.
// Params: none.
// Returns: KindUnrecognized.
func (Unrecognized) Kind() Kind { return KindUnrecognized }
