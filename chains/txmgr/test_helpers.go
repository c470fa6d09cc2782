package txmgr

// TEST ONLY FUNCTIONS
// these need to be exported for the txmgr tests to continue to work

func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) XXXTestDroppedCount(hash THASH) (uint32, bool) {
	return pt.droppedBuffer.get(hash)
}

func (pt *PendingTracker[ADDR, THASH, BHASH, R, SEQ]) XXXTestDroppedBufferLen() int {
	return pt.droppedBuffer.len()
}

func (t *Txm[HEAD, ADDR, THASH, BHASH, R, SEQ]) XXXDeliverBlock(blockNum int64) {
	t.mb.Deliver(blockNum)
}
