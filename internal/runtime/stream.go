package runtime

import "context"

// exchangeStream is the channel-backed Stream handle for one exchange.
// The run goroutine emits events and awaits approvals; finish closes both
// sides exactly once.
type exchangeStream struct {
	events    chan Event
	responses chan Approval
	done      chan struct{}
}

func newExchangeStream() *exchangeStream {
	return &exchangeStream{
		events:    make(chan Event, 16),
		responses: make(chan Approval),
		done:      make(chan struct{}),
	}
}

func (s *exchangeStream) Events() <-chan Event {
	return s.events
}

// Respond answers a pending tool-call event. After the exchange reaches a
// terminal state it returns ErrStreamClosed; an abandoned approval is not
// an error worth crashing over.
func (s *exchangeStream) Respond(approval Approval) error {
	select {
	case s.responses <- approval:
		return nil
	case <-s.done:
		return ErrStreamClosed
	}
}

// emit delivers ev unless the consumer is gone. It reports whether the
// exchange should keep running.
func (s *exchangeStream) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// await blocks until the matching approval arrives. Answers for other
// approval ids are stale (a prior request slot was already released) and
// are dropped.
func (s *exchangeStream) await(ctx context.Context, approvalID string) (bool, error) {
	for {
		select {
		case approval := <-s.responses:
			if approval.ApprovalID != approvalID {
				continue
			}
			return approval.Approved, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (s *exchangeStream) finish() {
	close(s.done)
	close(s.events)
}
