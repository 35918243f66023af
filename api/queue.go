package api

import (
	"log/slog"
	"sync"
)

type result struct {
	resp *Response
	err  error
}

// pendingCall is a request waiting for its response. Its result channel is
// buffered and receives exactly one value.
type pendingCall struct {
	request Request
	result  chan result
}

func (c *pendingCall) settle(resp *Response, err error) {
	c.result <- result{resp: resp, err: err}
}

// requestQueue correlates responses with the requests awaiting them. The
// correlation key is (seq_id, req_type), arrival order does not matter.
type requestQueue struct {
	mu      sync.Mutex
	pending map[correlationKey]*pendingCall

	// unsolicited receives responses that match no pending call but carry an
	// object id and data. It is called without holding mu.
	unsolicited func(resp Response)
}

func newRequestQueue(unsolicited func(resp Response)) *requestQueue {
	return &requestQueue{
		pending:     make(map[correlationKey]*pendingCall),
		unsolicited: unsolicited,
	}
}

// enqueue registers req as pending. The sequence id must already be assigned.
func (q *requestQueue) enqueue(req Request) *pendingCall {
	call := &pendingCall{request: req, result: make(chan result, 1)}

	q.mu.Lock()
	q.pending[req.key()] = call
	q.mu.Unlock()

	return call
}

// onResponse settles the call matching resp and reports whether there was one.
// Responses with a non-zero result code reject the call with a [ProtocolError].
func (q *requestQueue) onResponse(resp Response) bool {
	key := resp.key()

	q.mu.Lock()
	call, ok := q.pending[key]
	if ok {
		delete(q.pending, key)
	}
	q.mu.Unlock()

	if ok {
		if resp.ResultCode != 0 {
			call.settle(&resp, &ProtocolError{
				RequestType: resp.RequestType,
				SequenceID:  resp.SequenceID,
				ResultCode:  resp.ResultCode,
				Message:     resp.Message,
			})
		} else {
			call.settle(&resp, nil)
		}

		return true
	}

	if resp.ObjectID != "" && len(resp.OutData) > 0 && q.unsolicited != nil {
		q.unsolicited(resp)
		return false
	}

	slog.Debug("dropped unmatched response",
		slog.String("req_type", resp.RequestType.String()),
		slog.Int("seq_id", resp.SequenceID),
		slog.Int("req_result", resp.ResultCode),
	)

	return false
}

// remove drops the pending call with the given key without settling it. It
// reports whether the call was still pending.
func (q *requestQueue) remove(key correlationKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, ok := q.pending[key]
	delete(q.pending, key)
	return ok
}

// flush rejects every pending call with err and empties the queue.
func (q *requestQueue) flush(err error) {
	q.mu.Lock()
	calls := q.pending
	q.pending = make(map[correlationKey]*pendingCall)
	q.mu.Unlock()

	for _, call := range calls {
		call.settle(nil, err)
	}
}

func (q *requestQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}
