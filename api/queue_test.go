package api

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestQueueSettlesOutOfOrder(t *testing.T) {
	q := newRequestQueue(nil)

	a := q.enqueue(Request{RequestType: RequestStatus, SequenceID: 1})
	b := q.enqueue(Request{RequestType: RequestStatus, SequenceID: 2})

	if !q.onResponse(Response{RequestType: RequestStatus, SequenceID: 2, ObjectID: "b"}) {
		t.Fatal("response to seq 2 settled nothing")
	}

	select {
	case <-a.result:
		t.Fatal("call with seq 1 was settled by response to seq 2")
	default:
	}

	res := <-b.result
	if res.err != nil || res.resp.ObjectID != "b" {
		t.Errorf("call with seq 2 got %+v, %v", res.resp, res.err)
	}

	if !q.onResponse(Response{RequestType: RequestStatus, SequenceID: 1, ObjectID: "a"}) {
		t.Fatal("response to seq 1 settled nothing")
	}

	res = <-a.result
	if res.err != nil || res.resp.ObjectID != "a" {
		t.Errorf("call with seq 1 got %+v, %v", res.resp, res.err)
	}

	if q.len() != 0 {
		t.Errorf("queue has %d pending calls, want 0", q.len())
	}
}

func TestQueueKeyIncludesRequestType(t *testing.T) {
	q := newRequestQueue(nil)

	call := q.enqueue(Request{RequestType: RequestAction, SequenceID: 7})

	if q.onResponse(Response{RequestType: RequestStatus, SequenceID: 7}) {
		t.Fatal("response with a different req_type settled the call")
	}

	select {
	case <-call.result:
		t.Fatal("call was settled")
	default:
	}
}

func TestQueueRejectsNonZeroResult(t *testing.T) {
	q := newRequestQueue(nil)

	call := q.enqueue(Request{RequestType: RequestAction, SequenceID: 3})
	q.onResponse(Response{RequestType: RequestAction, SequenceID: 3, ResultCode: 1, Message: "invalid token"})

	res := <-call.result

	var protoErr *ProtocolError
	if !errors.As(res.err, &protoErr) {
		t.Fatalf("got error %v, want *ProtocolError", res.err)
	}
	if protoErr.ResultCode != 1 {
		t.Errorf("ResultCode = %d, want 1", protoErr.ResultCode)
	}
	if !errors.Is(res.err, ErrInvalidToken) {
		t.Errorf("error %v does not match ErrInvalidToken", res.err)
	}
}

func TestQueueRoutesUnsolicitedPushes(t *testing.T) {
	var pushes []Response
	q := newRequestQueue(func(resp Response) {
		pushes = append(pushes, resp)
	})

	call := q.enqueue(Request{RequestType: RequestStatus, SequenceID: 1})

	push := Response{
		RequestType: RequestStatus,
		SequenceID:  99,
		ObjectID:    "DOM#LT#1",
		OutData:     []json.RawMessage{json.RawMessage(`{"id":"DOM#LT#1","status":"1"}`)},
	}
	if q.onResponse(push) {
		t.Fatal("push settled a pending call")
	}

	select {
	case <-call.result:
		t.Fatal("pending call was settled by a push")
	default:
	}

	if len(pushes) != 1 || pushes[0].ObjectID != "DOM#LT#1" {
		t.Errorf("unsolicited handler got %+v, want one push for DOM#LT#1", pushes)
	}

	// Without an object id or data there is nothing to merge.
	q.onResponse(Response{RequestType: RequestPing, SequenceID: 42})
	if len(pushes) != 1 {
		t.Errorf("unsolicited handler called %d times, want 1", len(pushes))
	}
}

func TestQueueFlushRejectsPending(t *testing.T) {
	q := newRequestQueue(nil)

	a := q.enqueue(Request{RequestType: RequestStatus, SequenceID: 1})
	b := q.enqueue(Request{RequestType: RequestPing, SequenceID: 2})

	q.flush(ErrClientClosed)

	for _, call := range []*pendingCall{a, b} {
		res := <-call.result
		if !errors.Is(res.err, ErrClientClosed) {
			t.Errorf("seq %d got error %v, want ErrClientClosed", call.request.SequenceID, res.err)
		}
	}

	if q.onResponse(Response{RequestType: RequestStatus, SequenceID: 1}) {
		t.Error("late response settled a flushed call")
	}
}

func TestQueueRemove(t *testing.T) {
	q := newRequestQueue(nil)

	call := q.enqueue(Request{RequestType: RequestStatus, SequenceID: 5})
	if !q.remove(call.request.key()) {
		t.Fatal("remove() = false, want true")
	}
	if q.remove(call.request.key()) {
		t.Error("second remove() = true, want false")
	}
	if q.onResponse(Response{RequestType: RequestStatus, SequenceID: 5}) {
		t.Error("response settled a removed call")
	}
}
