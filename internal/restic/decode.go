package restic

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

const linePreviewLimit = 200

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeReason classifies one decode failure.
// Params: none.
// Returns: enum value for error routing and log wording.
type DecodeReason string

const (
	// ReasonMalformed marks input that is not a well-formed JSON record.
	ReasonMalformed DecodeReason = "malformed"
	// ReasonMissingField marks a record missing a field its kind requires.
	ReasonMissingField DecodeReason = "missing_field"
	// ReasonInvalidField marks a record with a type-mismatched field value.
	ReasonInvalidField DecodeReason = "invalid_field"
)

// DecodeError describes why one input line could not become an event.
// Params: reason class, event kind and field when known, bounded line preview.
// Returns: error value carried to the caller's logging path.
type DecodeError struct {
	Reason  DecodeReason
	Kind    Kind
	Field   string
	Preview string
	cause   error
}

// Error renders the decode failure with its classification.
// Params: none.
// Returns: human-readable error text.
func (e *DecodeError) Error() string {
	switch e.Reason {
	case ReasonMissingField:
		return fmt.Sprintf("%s event: missing required field %q", e.Kind, e.Field)
	case ReasonInvalidField:
		return fmt.Sprintf("%s event: invalid field value: %v", e.Kind, e.cause)
	default:
		return fmt.Sprintf("malformed line %q: %v", e.Preview, e.cause)
	}
}

// Unwrap exposes the underlying JSON error.
// Params: none.
// Returns: wrapped cause or nil.
func (e *DecodeError) Unwrap() error { return e.cause }

// preview truncates one input line for log-safe error reporting.
// Params: line raw input bytes.
// Returns: line text bounded to linePreviewLimit bytes.
func preview(line []byte) string {
	if len(line) > linePreviewLimit {
		return string(line[:linePreviewLimit]) + "..."
	}
	return string(line)
}

type statusPayload struct {
	SecondsElapsed   float64  `json:"seconds_elapsed"`
	SecondsRemaining float64  `json:"seconds_remaining"`
	PercentDone      *float64 `json:"percent_done"`
	TotalFiles       uint64   `json:"total_files"`
	FilesDone        *uint64  `json:"files_done"`
	TotalBytes       uint64   `json:"total_bytes"`
	BytesDone        *uint64  `json:"bytes_done"`
	ErrorCount       *uint64  `json:"error_count"`
	CurrentFiles     []string `json:"current_files"`
}

type summaryPayload struct {
	SnapshotID          *string `json:"snapshot_id"`
	TotalFilesProcessed uint64  `json:"total_files_processed"`
	TotalBytesProcessed *uint64 `json:"total_bytes_processed"`
	TotalDuration       float64 `json:"total_duration"`
	DataAdded           uint64  `json:"data_added"`
	DataBlobs           uint64  `json:"data_blobs"`
	TreeBlobs           uint64  `json:"tree_blobs"`
	FilesNew            uint64  `json:"files_new"`
	FilesChanged        uint64  `json:"files_changed"`
	FilesUnmodified     uint64  `json:"files_unmodified"`
	DirsNew             uint64  `json:"dirs_new"`
	DirsChanged         uint64  `json:"dirs_changed"`
	DirsUnmodified      uint64  `json:"dirs_unmodified"`
}

type errorPayload struct {
	Err    json.RawMessage `json:"error"`
	During string          `json:"during"`
	Item   *string         `json:"item"`
}

type verboseStatusPayload struct {
	Action   *string `json:"action"`
	Item     *string `json:"item"`
	Size     uint64  `json:"size"`
	Duration float64 `json:"duration"`
}

// Decode turns one line of the restic JSON stream into a typed event.
// It tolerates trailing CR/LF and assumes no maximum line length. A
// well-formed record with an unknown discriminant decodes to Unrecognized
// instead of failing; only structural problems return an error.
// Params: line raw input bytes including any trailing newline.
// Returns: decoded event variant, or *DecodeError on malformed input,
// missing required field, or type-mismatched field value.
func Decode(line []byte) (Event, error) {
	trimmed := bytes.TrimRight(line, "\r\n \t")

	var probe struct {
		MessageType any `json:"message_type"`
	}
	if err := jsonCodec.Unmarshal(trimmed, &probe); err != nil {
		return nil, &DecodeError{Reason: ReasonMalformed, Preview: preview(trimmed), cause: err}
	}

	messageType, ok := probe.MessageType.(string)
	if !ok || messageType == "" {
		// Missing or non-string discriminant: the record cannot be routed,
		// but the stream must survive forward-incompatible lines.
		return Unrecognized{}, nil
	}

	switch messageType {
	case "status":
		return decodeStatus(trimmed)
	case "summary":
		return decodeSummary(trimmed)
	case "error":
		return decodeErrorEvent(trimmed)
	case "verbose_status":
		return decodeVerboseStatus(trimmed)
	default:
		return Unrecognized{MessageType: messageType}, nil
	}
}

// decodeStatus decodes one status line with required-field checks.
// Params: trimmed well-formed JSON bytes.
// Returns: Status event or *DecodeError.
func decodeStatus(trimmed []byte) (Event, error) {
	var payload statusPayload
	if err := jsonCodec.Unmarshal(trimmed, &payload); err != nil {
		return nil, &DecodeError{Reason: ReasonInvalidField, Kind: KindStatus, Preview: preview(trimmed), cause: err}
	}
	if payload.PercentDone == nil {
		return nil, &DecodeError{Reason: ReasonMissingField, Kind: KindStatus, Field: "percent_done"}
	}
	if payload.BytesDone == nil {
		return nil, &DecodeError{Reason: ReasonMissingField, Kind: KindStatus, Field: "bytes_done"}
	}

	return Status{
		SecondsElapsed:   payload.SecondsElapsed,
		SecondsRemaining: payload.SecondsRemaining,
		PercentDone:      *payload.PercentDone,
		TotalFiles:       payload.TotalFiles,
		FilesDone:        payload.FilesDone,
		TotalBytes:       payload.TotalBytes,
		BytesDone:        *payload.BytesDone,
		ErrorCount:       payload.ErrorCount,
		CurrentFiles:     payload.CurrentFiles,
	}, nil
}

// decodeSummary decodes one terminal summary line.
// Params: trimmed well-formed JSON bytes.
// Returns: Summary event or *DecodeError.
func decodeSummary(trimmed []byte) (Event, error) {
	var payload summaryPayload
	if err := jsonCodec.Unmarshal(trimmed, &payload); err != nil {
		return nil, &DecodeError{Reason: ReasonInvalidField, Kind: KindSummary, Preview: preview(trimmed), cause: err}
	}
	if payload.SnapshotID == nil || *payload.SnapshotID == "" {
		return nil, &DecodeError{Reason: ReasonMissingField, Kind: KindSummary, Field: "snapshot_id"}
	}
	if payload.TotalBytesProcessed == nil {
		return nil, &DecodeError{Reason: ReasonMissingField, Kind: KindSummary, Field: "total_bytes_processed"}
	}

	return Summary{
		SnapshotID:          *payload.SnapshotID,
		TotalFilesProcessed: payload.TotalFilesProcessed,
		TotalBytesProcessed: *payload.TotalBytesProcessed,
		TotalDuration:       payload.TotalDuration,
		DataAdded:           payload.DataAdded,
		DataBlobs:           payload.DataBlobs,
		TreeBlobs:           payload.TreeBlobs,
		FilesNew:            payload.FilesNew,
		FilesChanged:        payload.FilesChanged,
		FilesUnmodified:     payload.FilesUnmodified,
		DirsNew:             payload.DirsNew,
		DirsChanged:         payload.DirsChanged,
		DirsUnmodified:      payload.DirsUnmodified,
	}, nil
}

// decodeErrorEvent decodes one per-item error line. The error message is
// nested as {"error":{"message":...}} in current restic and was a flat
// string in older releases; both forms are accepted.
// Params: trimmed well-formed JSON bytes.
// Returns: Error event or *DecodeError.
func decodeErrorEvent(trimmed []byte) (Event, error) {
	var payload errorPayload
	if err := jsonCodec.Unmarshal(trimmed, &payload); err != nil {
		return nil, &DecodeError{Reason: ReasonInvalidField, Kind: KindError, Preview: preview(trimmed), cause: err}
	}
	if payload.Item == nil {
		return nil, &DecodeError{Reason: ReasonMissingField, Kind: KindError, Field: "item"}
	}

	return Error{
		Item:    *payload.Item,
		During:  payload.During,
		Message: decodeErrorMessage(payload.Err),
	}, nil
}

// decodeErrorMessage extracts the message from either wire form.
// Params: raw the "error" value bytes, may be empty.
// Returns: message text or empty string when absent/unreadable.
func decodeErrorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var nested struct {
		Message string `json:"message"`
	}
	if err := jsonCodec.Unmarshal(raw, &nested); err == nil && nested.Message != "" {
		return nested.Message
	}

	var flat string
	if err := jsonCodec.Unmarshal(raw, &flat); err == nil {
		return flat
	}
	return ""
}

// decodeVerboseStatus decodes one per-file action line.
// Params: trimmed well-formed JSON bytes.
// Returns: VerboseStatus event or *DecodeError.
func decodeVerboseStatus(trimmed []byte) (Event, error) {
	var payload verboseStatusPayload
	if err := jsonCodec.Unmarshal(trimmed, &payload); err != nil {
		return nil, &DecodeError{Reason: ReasonInvalidField, Kind: KindVerboseStatus, Preview: preview(trimmed), cause: err}
	}
	if payload.Action == nil || *payload.Action == "" {
		return nil, &DecodeError{Reason: ReasonMissingField, Kind: KindVerboseStatus, Field: "action"}
	}
	if payload.Item == nil {
		return nil, &DecodeError{Reason: ReasonMissingField, Kind: KindVerboseStatus, Field: "item"}
	}

	return VerboseStatus{
		Action:   *payload.Action,
		Item:     *payload.Item,
		Size:     payload.Size,
		Duration: payload.Duration,
	}, nil
}
