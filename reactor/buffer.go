package reactor

import (
	"github.com/wuyongjia/pool"
	"golang.org/x/sys/unix"
)

// scratchPool supplies the 64 KiB stack-equivalent scratch region used
// by Buffer.ReadFD's scatter read. Pooling it (rather than allocating a
// fresh slice per read, which the reference C++ gets for free from a
// stack array) keeps the per-connection cost of a readiness edge to a
// pool checkout instead of a heap allocation.
var scratchPool = pool.New(256, func() interface{} {
	buf := make([]byte, ScatterReadScratchSize)
	return &buf
})

// Buffer is a growable byte region laid out as
// [prependable | readable | writable] with two cursors. It is owned
// exclusively by its containing TcpConnection and must not be shared
// across reactor threads.
type Buffer struct {
	buf    []byte
	reader int
	writer int
}

// NewBuffer constructs a Buffer with the given initial writable
// capacity (not counting the default prepend headroom).
func NewBuffer(initialSize int) *Buffer {
	if initialSize <= 0 {
		initialSize = InitialBufferCapacity
	}
	return &Buffer{
		buf:    make([]byte, DefaultPrependSize+initialSize),
		reader: DefaultPrependSize,
		writer: DefaultPrependSize,
	}
}

// ReadableBytes returns the number of bytes available to Peek/Retrieve.
func (b *Buffer) ReadableBytes() int { return b.writer - b.reader }

// WritableBytes returns the number of bytes available to Append without
// growing the buffer.
func (b *Buffer) WritableBytes() int { return len(b.buf) - b.writer }

// PrependableBytes returns the reusable head-room before the reader
// cursor.
func (b *Buffer) PrependableBytes() int { return b.reader }

// Peek returns the readable region without consuming it.
func (b *Buffer) Peek() []byte {
	return b.buf[b.reader:b.writer]
}

// Retrieve advances the reader cursor by n bytes. If n is at least the
// readable length, both cursors reset to the prepend offset so a
// subsequent Append can reuse the whole backing array.
func (b *Buffer) Retrieve(n int) {
	if n < b.ReadableBytes() {
		b.reader += n
	} else {
		b.RetrieveAll()
	}
}

// RetrieveAll resets both cursors to the prepend offset, discarding all
// readable bytes without copying.
func (b *Buffer) RetrieveAll() {
	b.reader = DefaultPrependSize
	b.writer = DefaultPrependSize
}

// RetrieveAsString copies out up to n readable bytes (clamped to what's
// available) and advances the reader cursor past them.
func (b *Buffer) RetrieveAsString(n int) string {
	if n > b.ReadableBytes() {
		n = b.ReadableBytes()
	}
	s := string(b.buf[b.reader : b.reader+n])
	b.Retrieve(n)
	return s
}

// RetrieveAllAsString copies out every readable byte and resets the
// buffer.
func (b *Buffer) RetrieveAllAsString() string {
	return b.RetrieveAsString(b.ReadableBytes())
}

// Append copies data onto the writable region, growing or compacting
// first if necessary.
func (b *Buffer) Append(data []byte) {
	b.EnsureWritable(len(data))
	n := copy(b.buf[b.writer:], data)
	b.writer += n
}

// BeginWrite returns the writable region's start, for callers (notably
// ReadFD) that need to write directly into the buffer.
func (b *Buffer) BeginWrite() []byte {
	return b.buf[b.writer:]
}

// EnsureWritable guarantees at least `need` bytes of writable space,
// either by compacting the readable region back to the default prepend
// offset (when that frees enough room) or by growing the backing array
// to exactly writer+need.
func (b *Buffer) EnsureWritable(need int) {
	if b.WritableBytes() >= need {
		return
	}
	if b.WritableBytes()+b.PrependableBytes() >= need+DefaultPrependSize {
		readable := b.ReadableBytes()
		copy(b.buf[DefaultPrependSize:], b.buf[b.reader:b.writer])
		b.reader = DefaultPrependSize
		b.writer = b.reader + readable
		return
	}
	grown := make([]byte, b.writer+need)
	copy(grown, b.buf)
	b.buf = grown
}

// ReadFD drains a readable socket using a scatter read against
// [writable region, 64 KiB pooled scratch], built from the two
// buffers via unix.Readv so the kernel fills both in one syscall. If
// everything fit in the writable region the writer cursor simply
// advances; otherwise the writable region is filled and the overflow
// is appended through the normal Append path, which compacts the
// buffer when that frees enough room and otherwise grows it by exactly
// the overflow size. This bounds per-connection memory growth
// for bursty traffic while avoiding a large per-connection
// pre-allocation.
func (b *Buffer) ReadFD(fd int) (n int, errno error) {
	writable := b.WritableBytes()

	scratchIface, err := scratchPool.Get()
	if err != nil {
		return -1, ErrPoolExhausted
	}
	scratch := scratchIface.(*[]byte)
	defer scratchPool.Put(scratch)

	var iov [][]byte
	if writable > 0 {
		iov = [][]byte{b.buf[b.writer:], *scratch}
	} else {
		iov = [][]byte{*scratch}
	}

	read, rerr := unix.Readv(fd, iov)
	if rerr != nil {
		return -1, rerr
	}
	if read <= writable {
		b.writer += read
	} else {
		b.writer = len(b.buf)
		b.Append((*scratch)[:read-writable])
	}
	return read, nil
}
