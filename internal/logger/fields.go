package logger

import (
	"log/slog"
)

// Standard field keys for structured logging across the Nexus core.
// Use these keys consistently so log lines can be aggregated/queried by
// nexus, child, or rebuild job.
const (
	// Distributed tracing
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"

	// Nexus identity & command surface
	KeyOp        = "op"         // command or internal operation name
	KeyNexusUUID = "nexus_uuid" // Nexus uuid
	KeyNexusName = "nexus_name" // Nexus human name
	KeyStatus    = "status"     // Nexus/child/job status value
	KeyErrorCode = "error_code" // nexuserr.Code

	// Child / block device
	KeyChildURI    = "child_uri"
	KeyChildState  = "child_state"
	KeyFaultReason = "fault_reason"
	KeyBlockLen    = "block_len"
	KeyNumBlocks   = "num_blocks"

	// I/O
	KeyOffset        = "offset"
	KeyLength        = "length"
	KeyBytesRead     = "bytes_read"
	KeyBytesWritten  = "bytes_written"
	KeyReaderIdx     = "reader_idx"
	KeyExecutorID    = "executor_id"

	// Rebuild
	KeyJobID          = "job_id"
	KeySourceURI      = "source_uri"
	KeyDestURI        = "dest_uri"
	KeySegmentStart   = "segment_start"
	KeySegmentEnd     = "segment_end"
	KeyBlocksTotal    = "blocks_total"
	KeyBlocksDone     = "blocks_recovered"
	KeyRebuildState   = "rebuild_state"

	// Gate
	KeyGateState = "gate_state"
	KeyPauseCnt  = "pause_count"

	// Generic
	KeyDurationMs = "duration_ms"
	KeyAttempt    = "attempt"
)

func TraceID(id string) slog.Attr      { return slog.String(KeyTraceID, id) }
func SpanID(id string) slog.Attr       { return slog.String(KeySpanID, id) }
func Op(name string) slog.Attr         { return slog.String(KeyOp, name) }
func NexusUUID(id string) slog.Attr    { return slog.String(KeyNexusUUID, id) }
func NexusName(name string) slog.Attr  { return slog.String(KeyNexusName, name) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func ErrCode(code string) slog.Attr    { return slog.String(KeyErrorCode, code) }

func ChildURI(uri string) slog.Attr       { return slog.String(KeyChildURI, uri) }
func ChildState(s string) slog.Attr       { return slog.String(KeyChildState, s) }
func FaultReason(r string) slog.Attr      { return slog.String(KeyFaultReason, r) }
func BlockLen(n uint32) slog.Attr         { return slog.Uint64(KeyBlockLen, uint64(n)) }
func NumBlocks(n uint64) slog.Attr        { return slog.Uint64(KeyNumBlocks, n) }

func Offset(off uint64) slog.Attr      { return slog.Uint64(KeyOffset, off) }
func Length(n uint64) slog.Attr        { return slog.Uint64(KeyLength, n) }
func BytesRead(n int) slog.Attr        { return slog.Int(KeyBytesRead, n) }
func BytesWritten(n int) slog.Attr     { return slog.Int(KeyBytesWritten, n) }
func ReaderIdx(i int) slog.Attr        { return slog.Int(KeyReaderIdx, i) }
func ExecutorID(i int) slog.Attr       { return slog.Int(KeyExecutorID, i) }

func JobID(id string) slog.Attr           { return slog.String(KeyJobID, id) }
func SourceURI(uri string) slog.Attr      { return slog.String(KeySourceURI, uri) }
func DestURI(uri string) slog.Attr        { return slog.String(KeyDestURI, uri) }
func SegmentStart(b uint64) slog.Attr     { return slog.Uint64(KeySegmentStart, b) }
func SegmentEnd(b uint64) slog.Attr       { return slog.Uint64(KeySegmentEnd, b) }
func BlocksTotal(n uint64) slog.Attr      { return slog.Uint64(KeyBlocksTotal, n) }
func BlocksDone(n uint64) slog.Attr       { return slog.Uint64(KeyBlocksDone, n) }
func RebuildState(s string) slog.Attr     { return slog.String(KeyRebuildState, s) }

func GateState(s string) slog.Attr { return slog.String(KeyGateState, s) }
func PauseCnt(n uint32) slog.Attr  { return slog.Uint64(KeyPauseCnt, uint64(n)) }

func DurationMs(ms float64) slog.Attr { return slog.Float64(KeyDurationMs, ms) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
