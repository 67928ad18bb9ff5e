package engine

// pendingMessage is a send requested before the engine was ready.
type pendingMessage struct {
	target string
	method string
	text   string
	json   map[string]any
	isJSON bool
}

// pendingQueue is a bounded FIFO that evicts its oldest entry when full.
// Callers synchronize access.
type pendingQueue struct {
	buf   []pendingMessage
	head  int
	size  int
	evict int64
}

func newPendingQueue(capacity int) *pendingQueue {
	return &pendingQueue{buf: make([]pendingMessage, capacity)}
}

// push appends m and reports whether an older entry was evicted.
func (q *pendingQueue) push(m pendingMessage) bool {
	if len(q.buf) == 0 {
		q.evict++
		return true
	}
	if q.size == len(q.buf) {
		q.buf[q.head] = m
		q.head = (q.head + 1) % len(q.buf)
		q.evict++
		return true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = m
	q.size++
	return false
}

// drain removes and returns every entry in FIFO order.
func (q *pendingQueue) drain() []pendingMessage {
	out := make([]pendingMessage, q.size)
	for i := range out {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.clear()
	return out
}

func (q *pendingQueue) clear() {
	clear(q.buf)
	q.head = 0
	q.size = 0
}

func (q *pendingQueue) len() int {
	return q.size
}
