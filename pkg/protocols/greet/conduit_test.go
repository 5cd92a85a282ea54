package greet

import (
	"errors"
	"testing"
	"testing/synctest"

	"github.com/Scille/parsec-cloud-sub013/internal/transport"
	"github.com/Scille/parsec-cloud-sub013/pkg/protocols"
)

func TestGreeterTransportFailure(t *testing.T) {
	testcases := []struct {
		name  string
		setup func(*transport.LimitTransport)
		flag  error
	}{
		{name: "write", setup: func(tr *transport.LimitTransport) { tr.SetWriteLimit(1) }, flag: transport.WriteLimitError},
		{name: "read", setup: func(tr *transport.LimitTransport) { tr.SetReadLimit(1) }, flag: transport.ReadLimitError},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				env := newTestEnv(t)
				ctx := testContext()

				conduit := env.greeter()
				id, err := conduit.Start(ctx)
				if nil != err {
					t.Fatalf("failed Start, got error %v", err)
				}
				state, err := NewGreeterState(env.greeterCfg(false))
				if nil != err {
					t.Fatalf("failed NewGreeterState, got error %v", err)
				}

				ct := NewConduitTransport(ctx, conduit, id)
				tr := transport.NewLimitTransport(ct)
				tc.setup(tr)

				err = protocols.Run(ctx, state, tr)
				if !errors.Is(err, tc.flag) {
					t.Fatalf("failed transport error check, got %v", err)
				}
				if 0 != ct.Released() {
					t.Errorf("failed Released check, got %d", ct.Released())
				}
			})
		})
	}
}
