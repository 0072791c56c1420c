package resolver

import (
	"bytes"
	"fmt"
)

// Trace records which strategy a PoolNsBackend resolution used, and which
// server ultimately answered. It supplements spec.md (which only logs
// this via one-line LOG_INFO/LOG_DEBUG calls in
// original_source/src/base/net/dns/DnsPoolNsBackend.cpp) with structured
// data callers can inspect, grounded on the teacher's own Trace/TraceNode
// in trace.go.
type Trace struct {
	Steps []TraceStep
}

// TraceStep is one state the backend passed through while resolving a
// single request.
type TraceStep struct {
	State  string
	Server string
	Detail string
}

func (t *Trace) add(state, server, detail string) {
	if t == nil {
		return
	}
	t.Steps = append(t.Steps, TraceStep{State: state, Server: server, Detail: detail})
}

// Dump renders the trace for human consumption; the format may change
// between releases without notice.
func (t *Trace) Dump() string {
	if t == nil {
		return ""
	}

	buf := &bytes.Buffer{}
	for _, s := range t.Steps {
		fmt.Fprintf(buf, "%-10s @%-20s %s\n", s.State, s.Server, s.Detail)
	}
	return buf.String()
}
