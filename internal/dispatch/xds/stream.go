// Package xds implements the xDS Dispatcher (C8): a Delta LDS/CDS server
// over gRPC, one outbox-driven stream state machine per (Pod UID, kind),
// and the Listener/Cluster encoding rules a VirtualService/Target compile
// down to.
package xds

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/anypb"
)

// opKind is the operation a reconcile places onto a stream's outbox.
type opKind int

const (
	opAdd opKind = iota
	opDelete
	opClose
)

type op struct {
	kind    opKind
	name    string
	payload *anypb.Any
}

// stream is the per-(Pod UID, kind) state machine: currentState only ever
// gains an entry once the client acknowledges the nonce it was pushed
// under, outbox is the FIFO the reconciler's Dispatch writes into and the
// connected gRPC handler drains.
type stream struct {
	mu     sync.Mutex
	outbox []op
	notify chan struct{}

	currentState map[string]*anypb.Any
	pendingAcks  map[string]struct{}
	pendingAdds  map[string]map[string]*anypb.Any
	nonceSeq     uint64
}

func newStream() *stream {
	return &stream{
		notify:       make(chan struct{}, 1),
		currentState: make(map[string]*anypb.Any),
		pendingAcks:  make(map[string]struct{}),
		pendingAdds:  make(map[string]map[string]*anypb.Any),
	}
}

// enqueue appends an op and wakes up a blocked dequeue, if any.
func (s *stream) enqueue(o op) {
	s.mu.Lock()
	s.outbox = append(s.outbox, o)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// dequeue blocks until an op is available or ctx is cancelled.
func (s *stream) dequeue(ctx context.Context) (op, bool) {
	for {
		s.mu.Lock()
		if len(s.outbox) > 0 {
			o := s.outbox[0]
			s.outbox = s.outbox[1:]
			s.mu.Unlock()
			return o, true
		}
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return op{}, false
		case <-s.notify:
		}
	}
}

// ack applies a Delta request's ACK/NACK handling: a response_nonce
// matching a pendingAck commits (ACK, empty error) or discards (NACK,
// non-empty error) the payloads stashed under it. An unrecognised nonce
// (replay, or a nonce from a now-superseded stream) is ignored.
func (s *stream) ack(responseNonce string, nacked bool) (acked bool) {
	if responseNonce == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, pending := s.pendingAcks[responseNonce]; !pending {
		return false
	}
	if !nacked {
		for name, payload := range s.pendingAdds[responseNonce] {
			s.currentState[name] = payload
		}
	}
	delete(s.pendingAcks, responseNonce)
	delete(s.pendingAdds, responseNonce)
	return !nacked
}

// applyAdd stages name/payload for push if name is not already current,
// returning the nonce to send it under. ok is false if name is already in
// currentState - a no-op the caller must not turn into a response.
func (s *stream) applyAdd(name string, payload *anypb.Any) (nonce string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.currentState[name]; exists {
		return "", false
	}
	s.nonceSeq++
	nonce = fmt.Sprintf("%d", s.nonceSeq)
	s.pendingAdds[nonce] = map[string]*anypb.Any{name: payload}
	s.pendingAcks[nonce] = struct{}{}
	return nonce, true
}

// applyDelete removes name from currentState if present, returning the
// nonce to send the removal under. ok is false if name was never current.
func (s *stream) applyDelete(name string) (nonce string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.currentState[name]; !exists {
		return "", false
	}
	delete(s.currentState, name)
	s.nonceSeq++
	nonce = fmt.Sprintf("%d", s.nonceSeq)
	s.pendingAcks[nonce] = struct{}{}
	return nonce, true
}

// registry is a set of streams keyed by Pod UID, one per kind (listeners,
// clusters). First encounter of a UID creates the stream implicitly - an
// outbox exists as soon as anything is pushed into it.
type registry struct {
	mu      sync.Mutex
	streams map[string]*stream
}

func newRegistry() *registry {
	return &registry{streams: make(map[string]*stream)}
}

func (r *registry) get(uid string) *stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.streams[uid]
	if !ok {
		st = newStream()
		r.streams[uid] = st
	}
	return st
}

func (r *registry) delete(uid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, uid)
}
