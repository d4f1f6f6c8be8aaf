package account

// Update is a typed message from the realtime channel to the orchestrator.
// The channel emits these on a queue the orchestrator owns and drains at the
// start of each decision cycle, keeping State single-owner.
type Update interface {
	isUpdate()
}

// PushUpdate carries a server-pushed realtime snapshot.
type PushUpdate struct {
	Data RealtimeData
}

func (PushUpdate) isUpdate() {}

// RegenUpdate carries locally simulated energy regeneration. Ticks is the
// number of elapsed one-second intervals; the channel coalesces ticks when
// the queue is full so regeneration is never lost.
type RegenUpdate struct {
	Ticks int
}

func (RegenUpdate) isUpdate() {}
