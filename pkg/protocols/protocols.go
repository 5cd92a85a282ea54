// Package protocols runs message driven protocols expressed as chains of state functions.
package protocols

import (
	"context"
	"errors"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/internal/transport"
)

// StateFunc changes state S using incoming []byte message.
// It returns next StateFunc and a message to be forwarded to connected peer.
// To report protocol completion StateFunc returns an error wrapping protocols.OK.
type StateFunc[S any] func(context.Context, S, []byte) (StateFunc[S], []byte, error)

// ExitFunc is called at protocol completion using protocol run error status.
type ExitFunc[S any] func(S, error) error

// Fsm exposes protocol state S.
type Fsm[S any] interface {
	State() (S, StateFunc[S])
	SetState(sf StateFunc[S])
	ExitHandler() ExitFunc[S]
	Initiator() bool
}

// Run reads & writes messages from/to Transport and executes protocol until completion.
//
// An initiator calls its first StateFunc with a nil message, a responder waits for the peer message.
// Run returns nil once a StateFunc reports completion, the completion message if any is still sent.
// The Fsm ExitHandler, if set, is called with the final state & error and its result is returned.
func Run[S any](ctx context.Context, fsm Fsm[S], tr transport.Transport) (err error) {
	log := observability.GetObservability(ctx).Log()

	s, sf := fsm.State()
	if nil == sf {
		return newError("nil initial StateFunc")
	}
	defer func() {
		fsm.SetState(sf)
		exh := fsm.ExitHandler()
		if nil != exh {
			state, _ := fsm.State()
			err = exh(state, err)
		}
	}()

	var msg []byte
	var errIO, errProto error
	if !fsm.Initiator() {
		msg, errIO = tr.ReadBytes()
		if nil != errIO {
			return wrapError(errIO, "failed reading initial message")
		}
	}

	for round := 0; ; round++ {
		if nil != ctx.Err() {
			return wrapError(ctx.Err(), "interrupted at round %d", round)
		}

		sf, msg, errProto = sf(ctx, s, msg)
		if nil != msg {
			errIO = tr.WriteBytes(msg)
			if nil != errIO {
				return wrapError(errIO, "failed writing message at round %d", round)
			}
		}

		switch {
		case nil == errProto:
		case errors.Is(errProto, OK):
			log.Debug("protocol completed", "rounds", round+1)
			return nil
		default:
			return wrapError(errProto, "failed state execution at round %d", round)
		}
		if nil == sf {
			return newError("nil StateFunc at round %d", round)
		}

		msg, errIO = tr.ReadBytes()
		if nil != errIO {
			return wrapError(errIO, "failed reading message at round %d", round)
		}
	}
}
