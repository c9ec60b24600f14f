package engine

import "fmt"

// Result is the discriminated outcome of a hot-path operation. The playback
// and edit paths never raise errors; callers branch on the code instead.
type Result uint8

const (
	OK Result = iota
	NotFound
	HeapExhausted
	SafeZoneViolation
	QueueOverflow
	SynapseTableFull
	QuotaExceeded
	KernelPanic
)

var resultNames = [...]string{
	OK:                "OK",
	NotFound:          "NOT_FOUND",
	HeapExhausted:     "HEAP_EXHAUSTED",
	SafeZoneViolation: "SAFE_ZONE_VIOLATION",
	QueueOverflow:     "COMMAND_QUEUE_OVERFLOW",
	SynapseTableFull:  "SYNAPSE_TABLE_FULL",
	QuotaExceeded:     "QUOTA_EXCEEDED",
	KernelPanic:       "KERNEL_PANIC",
}

func (r Result) String() string {
	if int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("Result(%d)", uint8(r))
}

// Err converts a code to an error for cold-path callers. OK maps to nil.
func (r Result) Err() error {
	if r == OK {
		return nil
	}
	return fmt.Errorf("engine: %s", r.String())
}

// Fatal reports whether the session is beyond recovery. Only a tripped
// dead-man's switch or a detected structural loop qualifies; everything
// else is rejected up front and the caller can simply retry or give up.
func (r Result) Fatal() bool {
	return r == KernelPanic
}
