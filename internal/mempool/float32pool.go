// Package mempool recycles the large float32 buffers used for model input
// tensors so sliced detection does not allocate one per tile batch.
package mempool

import "sync"

// classStep is the granularity of buffer size classes.
const classStep = 64 * 1024

var float32Pools sync.Map // size class -> *sync.Pool

func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func poolFor(cls int) *sync.Pool {
	if p, ok := float32Pools.Load(cls); ok {
		return p.(*sync.Pool)
	}
	p, _ := float32Pools.LoadOrStore(cls, &sync.Pool{
		New: func() any {
			buf := make([]float32, cls)
			return &buf
		},
	})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
func GetFloat32(n int) []float32 {
	if n <= 0 {
		return nil
	}
	cls := sizeClass(n)
	bp := poolFor(cls).Get().(*[]float32)
	buf := *bp
	if cap(buf) < n {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// PutFloat32 hands a buffer obtained from GetFloat32 back to its pool.
// Buffers whose capacity does not match a size class are dropped.
func PutFloat32(buf []float32) {
	c := cap(buf)
	if c == 0 || c%classStep != 0 {
		return
	}
	buf = buf[:c]
	poolFor(c).Put(&buf)
}
