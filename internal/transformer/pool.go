package transformer

import (
	"bytes"
	"sync"
)

// parserContext is the per-goroutine scratch space of a transform.
type parserContext struct {
	buf bytes.Buffer
}

var parserPool = sync.Pool{
	New: func() any { return new(parserContext) },
}

func acquireParser() *parserContext {
	return parserPool.Get().(*parserContext)
}

const maxPooledBuffer = 4 << 20

func releaseParser(p *parserContext) {
	if p.buf.Cap() > maxPooledBuffer {
		return
	}
	p.buf.Reset()
	parserPool.Put(p)
}
