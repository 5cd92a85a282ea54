package greet

import (
	"context"
	"time"

	"github.com/Scille/parsec-cloud-sub013/internal/transport"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

// Conduit gives one side access to the greeting attempts of an invitation.
type Conduit interface {
	// Start joins a greeting attempt and returns its id.
	Start(ctx context.Context) (invite.AttemptID, error)

	// Step writes payload in the own cell n of the id attempt and returns the peer cell n once written.
	// A StepResult that is not Ready means the peer has not written yet, Step must then be retried.
	Step(ctx context.Context, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error)

	// Cancel cancels the id attempt.
	Cancel(ctx context.Context, id invite.AttemptID, reason invite.CancelReason) error
}

// ConduitTransport adapts a Conduit attempt to the transport.Transport interface.
// Each WriteBytes must be followed by a ReadBytes that performs the step & returns the peer payload.
type ConduitTransport struct {
	ctx          context.Context
	conduit      Conduit
	id           invite.AttemptID
	next         int
	pending      []byte
	hasPending   bool
	PollInterval time.Duration
}

// NewConduitTransport returns a ConduitTransport exchanging messages on the id attempt of conduit.
func NewConduitTransport(ctx context.Context, conduit Conduit, id invite.AttemptID) *ConduitTransport {
	return &ConduitTransport{ctx: ctx, conduit: conduit, id: id}
}

// Released returns the number of steps released so far.
func (self *ConduitTransport) Released() int {
	return self.next
}

func (self *ConduitTransport) WriteBytes(data []byte) error {
	if self.hasPending {
		return newError("step %d already written", self.next)
	}
	self.pending = data
	self.hasPending = true
	return nil
}

func (self *ConduitTransport) ReadBytes() ([]byte, error) {
	if !self.hasPending {
		return nil, newError("step %d read before write", self.next)
	}
	for {
		res, err := self.conduit.Step(self.ctx, self.id, self.next, self.pending)
		if nil != err {
			return nil, wrapError(err, "failed step %d", self.next)
		}
		if res.Ready {
			self.next += 1
			self.pending = nil
			self.hasPending = false
			return res.Payload, nil
		}
		if self.PollInterval > 0 {
			select {
			case <-time.After(self.PollInterval):
			case <-self.ctx.Done():
			}
		}
		if nil != self.ctx.Err() {
			return nil, wrapError(self.ctx.Err(), "interrupted waiting step %d", self.next)
		}
	}
}

var _ transport.Transport = &ConduitTransport{}

// ServiceGreeter is the Conduit of a greeter using an in process invite.Service.
type ServiceGreeter struct {
	Service *invite.Service
	Author  invite.Author
	Token   invite.Token
}

func (self ServiceGreeter) Start(ctx context.Context) (invite.AttemptID, error) {
	return self.Service.GreeterStartGreetingAttempt(ctx, self.Author, self.Token)
}

func (self ServiceGreeter) Step(ctx context.Context, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
	return self.Service.GreeterStep(ctx, self.Author, id, n, payload)
}

func (self ServiceGreeter) Cancel(ctx context.Context, id invite.AttemptID, reason invite.CancelReason) error {
	return self.Service.GreeterCancelGreetingAttempt(ctx, self.Author, id, reason)
}

var _ Conduit = ServiceGreeter{}

// ServiceClaimer is the Conduit of a claimer using an in process invite.Service.
type ServiceClaimer struct {
	Service       *invite.Service
	Invited       invite.Invited
	GreeterUserID invite.UserID
}

func (self ServiceClaimer) Start(ctx context.Context) (invite.AttemptID, error) {
	return self.Service.ClaimerStartGreetingAttempt(ctx, self.Invited, self.GreeterUserID)
}

func (self ServiceClaimer) Step(ctx context.Context, id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
	return self.Service.ClaimerStep(ctx, self.Invited, id, n, payload)
}

func (self ServiceClaimer) Cancel(ctx context.Context, id invite.AttemptID, reason invite.CancelReason) error {
	return self.Service.ClaimerCancelGreetingAttempt(ctx, self.Invited, id, reason)
}

var _ Conduit = ServiceClaimer{}
