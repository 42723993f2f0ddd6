package canqueue

// LoopDetector tracks how many consecutive input queues were skipped per
// input source, to detect when the consumer can no longer make progress.
type LoopDetector struct {
	LocalQueueSkipCount   int
	RemoteQueueSkipCount  int
	IngressQueueSkipCount int
}

// DetectedLoop reports whether every input source of q has been skipped at
// least as many times as its schedule length.
//
// An empty source is skipped implicitly by PeekInput and PopInput: its skip
// threshold is trivially met because empty queues are removed from the
// schedules. So a detected loop means no new messages can be consumed from
// any input source.
func (x *LoopDetector) DetectedLoop(q *CanisterQueues) bool {
	return x.RemoteQueueSkipCount >= len(q.remoteSubnetInputSchedule) &&
		x.LocalQueueSkipCount >= len(q.localSubnetInputSchedule) &&
		x.IngressQueueSkipCount >= q.ingressQueue.ScheduleSize()
}
