package geo

// boundedCapture keeps the first len(buf) bytes written to it and silently
// drops the rest, so a chatty child never blocks on a full pipe.
type boundedCapture struct {
	buf       []byte
	n         int
	discarded int64
}

func newBoundedCapture(capacity int) *boundedCapture {
	if capacity <= 0 {
		capacity = DefaultOutputCapacity
	}
	return &boundedCapture{buf: make([]byte, capacity)}
}

func (c *boundedCapture) Write(p []byte) (int, error) {
	copied := copy(c.buf[c.n:], p)
	c.n += copied
	c.discarded += int64(len(p) - copied)
	return len(p), nil
}

func (c *boundedCapture) Bytes() []byte {
	return c.buf[:c.n]
}

func (c *boundedCapture) Overflowed() bool {
	return c.discarded > 0
}
