package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Scille/parsec-cloud-sub013/pkg/protocols/greet"
	"github.com/Scille/parsec-cloud-sub013/pkg/sas"
)

// promptUI shows SAS codes on out & reads the human picks on in.
type promptUI struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptUI(in io.Reader, out io.Writer) promptUI {
	return promptUI{in: bufio.NewReader(in), out: out}
}

func (self promptUI) ShowGreeterSas(_ context.Context, code sas.Code) error {
	_, err := fmt.Fprintf(self.out, "Read this code to the claimer: %s\n", code)
	return err
}

func (self promptUI) ShowClaimerSas(_ context.Context, code sas.Code) error {
	_, err := fmt.Fprintf(self.out, "Read this code to the greeter: %s\n", code)
	return err
}

func (self promptUI) PickClaimerSas(ctx context.Context, candidates []sas.Code) (sas.Code, error) {
	return self.pick(ctx, "claimer", candidates)
}

func (self promptUI) PickGreeterSas(ctx context.Context, candidates []sas.Code) (sas.Code, error) {
	return self.pick(ctx, "greeter", candidates)
}

// pick lists candidates & loops until a valid choice is entered.
// The read on in is not interrupted by ctx.
func (self promptUI) pick(ctx context.Context, peer string, candidates []sas.Code) (sas.Code, error) {
	fmt.Fprintf(self.out, "Which code did the %s read?\n", peer)
	for i, code := range candidates {
		fmt.Fprintf(self.out, "  %d) %s\n", i+1, code)
	}
	for {
		fmt.Fprintf(self.out, "Choice [1-%d]: ", len(candidates))
		line, err := self.in.ReadString('\n')
		if nil != ctx.Err() {
			return "", ctx.Err()
		}
		n, cerr := strconv.Atoi(strings.TrimSpace(line))
		if nil == cerr && n >= 1 && n <= len(candidates) {
			return candidates[n-1], nil
		}
		if nil != err {
			return "", fmt.Errorf("failed reading choice: %w", err)
		}
		fmt.Fprintln(self.out, "Invalid choice")
	}
}

var (
	_ greet.GreeterUI = promptUI{}
	_ greet.ClaimerUI = promptUI{}
)
