package state

import (
	"context"
	"errors"
	"fmt"

	"grimm.is/luci/internal/rpc"
	"grimm.is/luci/internal/uci"
)

// Object returns the "luci.history" RPC object. Rollbacks are committed
// through store, so its commit hooks run as for any other commit.
func (s *SQLiteStore) Object(store *uci.Store) rpc.Object {
	return rpc.Object{
		"revisions": {
			ReadOnly: true,
			Params:   map[string]string{"config": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				revs, err := s.Revisions(ctx, args.String("config"))
				if err != nil {
					return nil, toRPC(err)
				}
				if revs == nil {
					revs = []Revision{}
				}
				return map[string]any{"revisions": revs}, nil
			},
		},
		"show": {
			ReadOnly: true,
			Params:   map[string]string{"config": rpc.TypeString, "revision": rpc.TypeNumber},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				p, err := s.Revision(ctx, args.String("config"), int64(args.Int("revision", 0)))
				if err != nil {
					return nil, toRPC(err)
				}
				return map[string]any{"content": string(uci.Format(p))}, nil
			},
		},
		"rollback": {
			Params: map[string]string{"config": rpc.TypeString, "revision": rpc.TypeNumber},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				name := args.String("config")
				rev := int64(args.Int("revision", 0))
				p, err := s.Revision(ctx, name, rev)
				if err != nil {
					return nil, toRPC(err)
				}
				err = store.Replace(ctx, p, func(ctx context.Context, p *uci.Package) error {
					return s.write(ctx, []*uci.Package{p}, fmt.Sprintf("rollback to %d", rev))
				})
				if errors.Is(err, uci.ErrPending) {
					return nil, rpc.Errorf(rpc.StatusInvalidCommand, "%v", err)
				}
				if err != nil {
					return nil, toRPC(err)
				}
				return nil, nil
			},
		},
	}
}

func toRPC(err error) error {
	switch {
	case errors.Is(err, ErrNoSuchRevision):
		return rpc.Errorf(rpc.StatusNotFound, "%v", err)
	case errors.Is(err, ErrStoreClosed):
		return rpc.Errorf(rpc.StatusConnectionFailed, "%v", err)
	}
	return rpc.Errorf(rpc.StatusUnknownError, "%v", fmt.Errorf("history: %w", err))
}
