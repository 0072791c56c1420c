package wire

import (
	"net"
	"sync/atomic"
)

// IPVersion is the address family filter applied when parsing address
// records, matching the config surface's ip_version option (0/4/6).
type IPVersion int

const (
	// Any matches both A and AAAA records.
	Any IPVersion = 0
	// V4 matches only A records.
	V4 IPVersion = 4
	// V6 matches only AAAA records.
	V6 IPVersion = 6
)

// AcceptsV4 reports whether v permits A records.
func (v IPVersion) AcceptsV4() bool { return v == Any || v == V4 }

// AcceptsV6 reports whether v permits AAAA records.
func (v IPVersion) AcceptsV6() bool { return v == Any || v == V6 }

// Record is a single resolved address.
type Record struct {
	Family IPVersion
	Addr   net.IP
	IP     string
}

// RecordSet is an ordered, non-empty collection of Record values, in the
// order they appeared in the DNS response.
type RecordSet struct {
	records []Record
	next    uint32
}

// NewRecordSet builds a RecordSet from records in response order. It
// returns false if records is empty, matching the codec's "parse fails if
// nothing matched" behavior.
func NewRecordSet(records []Record) (RecordSet, bool) {
	if len(records) == 0 {
		return RecordSet{}, false
	}
	return RecordSet{records: records}, true
}

// Len returns the number of records.
func (s RecordSet) Len() int { return len(s.records) }

// Empty reports whether the set has no records.
func (s RecordSet) Empty() bool { return len(s.records) == 0 }

// All returns the records in response order.
func (s RecordSet) All() []Record {
	return s.records
}

// Get returns one record, rotating through the set round-robin across
// calls so that repeated lookups spread load across every address a pool
// hostname resolved to.
func (s *RecordSet) Get() Record {
	if len(s.records) == 0 {
		return Record{}
	}
	i := atomic.AddUint32(&s.next, 1) - 1
	return s.records[int(i)%len(s.records)]
}
