package audit

import (
	"context"
	"time"

	"grimm.is/luci/internal/rpc"
)

// Object returns the "luci.audit" RPC object.
func (s *Store) Object() rpc.Object {
	return rpc.Object{
		"list": {
			ReadOnly: true,
			Params: map[string]string{
				"user":   rpc.TypeString,
				"action": rpc.TypeString,
				"since":  rpc.TypeNumber,
				"limit":  rpc.TypeNumber,
			},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				q := Query{
					User:   args.String("user"),
					Action: args.String("action"),
					Limit:  args.Int("limit", 100),
				}
				if since := args.Int("since", 0); since > 0 {
					q.Since = time.Unix(int64(since), 0)
				}
				evts, err := s.Query(ctx, q)
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				if evts == nil {
					evts = []Event{}
				}
				return map[string]any{"events": evts}, nil
			},
		},
		"count": {
			ReadOnly: true,
			Handler: func(ctx context.Context, _ rpc.Args) (any, error) {
				n, err := s.Count(ctx)
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				return map[string]any{"count": n}, nil
			},
		},
	}
}
