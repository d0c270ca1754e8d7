package util

import "sync"

// bufPool holds read buffers for the socket read pump and the copy
// loops.  A buffer goes back to the pool once its bytes have been
// copied out, so chunks handed to callers never alias pooled memory.
var bufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf retrieves a DefaultBufSize buffer from the pool.  Callers must
// return it with [PutBuf] when finished.
func GetBuf() *[]byte {
	return bufPool.Get().(*[]byte)
}

// PutBuf returns a buffer to the pool.  Buffers that were resliced to a
// different capacity are dropped.
func PutBuf(buf *[]byte) {
	if buf == nil || cap(*buf) != DefaultBufSize {
		return
	}
	*buf = (*buf)[:DefaultBufSize]
	bufPool.Put(buf)
}
