// Package status defines the outgoing transaction status bitfield.
//
// A status is a set of orthogonal bits. The named states are fixed unions of
// those bits, ordered so that a larger value is further along toward finality.
// Callers test classes of state (final, error, in network) on the bits rather
// than enumerating named values.
package status

import (
	"strconv"
	"strings"
)

// Bits are the building blocks of Status.
const (
	BitQueued       uint = 0x01
	BitReserved     uint = 0x02
	BitInNetwork    uint = 0x08
	BitDeferred     uint = 0x10
	BitGasIssues    uint = 0x20
	BitLocalError   uint = 0x100
	BitNodeError    uint = 0x200
	BitNetworkError uint = 0x400
	BitUnknownError uint = 0x800
	BitFinal        uint = 0x1000
	BitObsolete     uint = 0x2000
	BitManual       uint = 0x8000

	// AllErrors is every error bit.
	AllErrors = BitLocalError | BitNodeError | BitNetworkError | BitUnknownError

	// Dead is set on rows that can no longer make progress.
	Dead = BitFinal | BitObsolete
)

// Status is the persisted status of an outgoing transaction.
type Status uint

const (
	Pending    Status = 0
	SendFail   Status = Status(BitDeferred | BitLocalError)
	Retry      Status = Status(BitQueued | BitDeferred)
	ReadySend  Status = Status(BitQueued)
	Obsoleted  Status = Status(BitObsolete | BitInNetwork)
	WaitForGas Status = Status(BitGasIssues)
	Sent       Status = Status(BitInNetwork)
	Fubar      Status = Status(BitFinal | BitUnknownError)
	Cancelled  Status = Status(BitInNetwork | BitFinal | BitObsolete)
	Overridden Status = Status(BitFinal | BitObsolete | BitManual)
	Rejected   Status = Status(BitNodeError | BitFinal)
	Reverted   Status = Status(BitInNetwork | BitFinal | BitNetworkError)
	Success    Status = Status(BitInNetwork | BitFinal)
)

var names = map[Status]string{
	Pending:    "PENDING",
	SendFail:   "SENDFAIL",
	Retry:      "RETRY",
	ReadySend:  "READYSEND",
	Obsoleted:  "OBSOLETED",
	WaitForGas: "WAITFORGAS",
	Sent:       "SENT",
	Fubar:      "FUBAR",
	Cancelled:  "CANCELLED",
	Overridden: "OVERRIDDEN",
	Rejected:   "REJECTED",
	Reverted:   "REVERTED",
	Success:    "SUCCESS",
}

var bitNames = []struct {
	bit  uint
	name string
}{
	{BitQueued, "QUEUED"},
	{BitReserved, "RESERVED"},
	{BitInNetwork, "IN_NETWORK"},
	{BitDeferred, "DEFERRED"},
	{BitGasIssues, "GAS_ISSUES"},
	{BitLocalError, "LOCAL_ERROR"},
	{BitNodeError, "NODE_ERROR"},
	{BitNetworkError, "NETWORK_ERROR"},
	{BitUnknownError, "UNKNOWN_ERROR"},
	{BitFinal, "FINAL"},
	{BitObsolete, "OBSOLETE"},
	{BitManual, "MANUAL"},
}

// Has reports whether every bit in mask is set.
func (s Status) Has(mask uint) bool {
	return uint(s)&mask == mask
}

// Any reports whether at least one bit in mask is set.
func (s Status) Any(mask uint) bool {
	return uint(s)&mask != 0
}

// Set returns s with the mask bits added.
func (s Status) Set(mask uint) Status {
	return Status(uint(s) | mask)
}

// Clear returns s with the mask bits removed.
func (s Status) Clear(mask uint) Status {
	return Status(uint(s) &^ mask)
}

func (s Status) IsFinal() bool     { return s.Any(BitFinal) }
func (s Status) IsInNetwork() bool { return s.Any(BitInNetwork) }
func (s Status) IsObsolete() bool  { return s.Any(BitObsolete) }
func (s Status) IsError() bool     { return s.Any(AllErrors) }

// IsAlive is true for rows that may still be sent or confirmed.
func (s Status) IsAlive() bool { return !s.Any(Dead) }

// String returns the state name, or the set bits followed by "*" when the
// value is not one of the named states.
func (s Status) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	parts := make([]string, 0, len(bitNames))
	for _, b := range bitNames {
		if s.Any(b.bit) {
			parts = append(parts, b.name)
		}
	}
	if rest := uint(s) &^ knownBits; rest != 0 {
		parts = append(parts, "0x"+strconv.FormatUint(uint64(rest), 16))
	}
	return strings.Join(parts, ",") + "*"
}

var knownBits = func() uint {
	var m uint
	for _, b := range bitNames {
		m |= b.bit
	}
	return m
}()

// Parse returns the status with the given name.
func Parse(name string) (Status, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for s, n := range names {
		if n == name {
			return s, true
		}
	}
	return 0, false
}
