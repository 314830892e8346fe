package room

// opKind names the lifecycle operation a suppression window belongs
// to. Only join and leave need one: start and end are plain updates
// whose echoes are safe to apply.
type opKind int

const (
	opNone opKind = iota
	opJoin
	opLeave
)

// opState is the per-operation progression:
// idle -> pending -> confirmed | rolledBack -> idle.
type opState int

const (
	opIdle opState = iota
	opPending
	opConfirmed
	opRolledBack
)

// pendingOp tracks the one in-flight join or leave. While it is live,
// snapshot reconciliation must not let a stale echo overwrite the
// optimistic view of this client's own record. A join stays live after
// its write is confirmed until the store echoes the created record
// back; a leave ends as soon as its delete resolves.
type pendingOp struct {
	kind  opKind
	state opState
}

func (o *pendingOp) begin(kind opKind) {
	o.kind = kind
	o.state = opPending
}

func (o *pendingOp) confirm() {
	if o.state == opPending {
		o.state = opConfirmed
	}
}

func (o *pendingOp) rollback() {
	if o.state == opPending {
		o.state = opRolledBack
	}
}

func (o *pendingOp) reset() {
	o.kind = opNone
	o.state = opIdle
}

// live reports whether an operation of the given kind is in flight or
// still awaiting its echo.
func (o pendingOp) live(kind opKind) bool {
	return o.kind == kind && (o.state == opPending || o.state == opConfirmed)
}

// suppresses reports whether reconciliation must leave this client's
// own record alone for the current snapshot.
func (o pendingOp) suppresses() bool {
	return o.live(opJoin) || o.live(opLeave)
}

// awaitingEcho reports whether a confirmed join is waiting for the
// store to echo the created record back in a snapshot.
func (o pendingOp) awaitingEcho() bool {
	return o.kind == opJoin && o.state == opConfirmed
}

func (o pendingOp) joining() bool { return o.kind == opJoin && o.state == opPending }

func (o pendingOp) leaving() bool { return o.kind == opLeave && o.state == opPending }
