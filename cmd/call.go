package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"

	"grimm.is/luci/internal/rpc"
)

// RunCall handles the "call" command: luci call <object> <method> [json].
// With -list it prints the signatures of objects matching the arguments.
func RunCall(args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	var t Target
	t.flags(fs)
	list := fs.Bool("list", false, "List objects and methods")
	fs.BoolVar(list, "l", false, "List objects and methods (short)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	if !*list && fs.NArg() < 2 {
		return errors.New("usage: call <object> <method> [json-args]")
	}
	c, err := connect(ctx, t)
	if err != nil {
		return err
	}
	defer c.Close()

	if *list {
		sigs, err := listSignatures(ctx, c, fs.Args()...)
		if err != nil {
			return err
		}
		return printJSON(sigs)
	}

	res, err := call(ctx, c, fs.Arg(0), fs.Arg(1), fs.Arg(2))
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	return printJSON(res)
}

func call(ctx context.Context, c rpc.Caller, object, method, raw string) (any, error) {
	var args rpc.Args
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	return c.Call(ctx, object, method, args)
}

func listSignatures(ctx context.Context, c *conn, patterns ...string) (rpc.Signatures, error) {
	switch l := c.Caller.(type) {
	case *rpc.Bus:
		return l.List(patterns...), nil
	case interface {
		List(context.Context, ...string) (rpc.Signatures, error)
	}:
		return l.List(ctx, patterns...)
	}
	return nil, errors.New("transport cannot list objects")
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "\t")
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, string(data))
	return nil
}
