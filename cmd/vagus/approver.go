package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"vagus/internal/tool"
)

// terminalApprover prompts on the terminal when a tool call needs human
// confirmation. Anything other than y/yes denies.
type terminalApprover struct {
	in  io.Reader
	out io.Writer
}

func (a terminalApprover) Decide(ctx context.Context, req tool.ApprovalRequest) (bool, error) {
	fmt.Fprintf(a.out, "approve tool %q (risk=%s mode=%s)? [y/N] ", req.Tool, req.RiskTier, req.Mode)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := bufio.NewReader(a.in).ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case ans := <-ch:
		if ans.err != nil && ans.line == "" {
			return false, ans.err
		}
		switch strings.ToLower(strings.TrimSpace(ans.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
