package fs

import (
	"context"
	"errors"
	iofs "io/fs"
	"os"

	"grimm.is/luci/internal/rpc"
)

// Usage is the reply of file.statfs, in bytes and inodes.
type Usage struct {
	Total uint64 `json:"total"`
	Free  uint64 `json:"free"`
	Avail uint64 `json:"avail"`
	Files uint64 `json:"files"`
	Ffree uint64 `json:"ffree"`
}

// Object returns the "file" RPC object.
func (h *Helper) Object() rpc.Object {
	return rpc.Object{
		"read": {
			ReadOnly: true,
			Params:   map[string]string{"path": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				data, err := h.Read(ctx, args.String("path"))
				if err != nil {
					return nil, toRPC(err)
				}
				return map[string]any{"data": data}, nil
			},
		},
		"write": {
			Params: map[string]string{"path": rpc.TypeString, "data": rpc.TypeString, "mode": rpc.TypeNumber},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				mode := os.FileMode(args.Int("mode", 0)).Perm()
				return nil, toRPC(h.Write(ctx, args.String("path"), args.String("data"), mode))
			},
		},
		"remove": {
			Params: map[string]string{"path": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				return nil, toRPC(h.Remove(ctx, args.String("path")))
			},
		},
		"list": {
			ReadOnly: true,
			Params:   map[string]string{"path": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				entries, err := h.List(ctx, args.String("path"))
				if err != nil {
					return nil, toRPC(err)
				}
				return map[string]any{"entries": entries}, nil
			},
		},
		"stat": {
			ReadOnly: true,
			Params:   map[string]string{"path": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				st, err := h.Stat(ctx, args.String("path"))
				if err != nil {
					return nil, toRPC(err)
				}
				return st, nil
			},
		},
		"statfs": {
			ReadOnly: true,
			Params:   map[string]string{"path": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				u, err := h.Statfs(ctx, args.String("path"))
				if err != nil {
					return nil, toRPC(err)
				}
				return u, nil
			},
		},
		"exec": {
			Params: map[string]string{"command": rpc.TypeString, "params": rpc.TypeArray, "env": rpc.TypeObject},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				var req struct {
					Command string            `json:"command"`
					Params  []string          `json:"params"`
					Env     map[string]string `json:"env"`
				}
				if err := args.Decode(&req); err != nil {
					return nil, err
				}
				res, err := h.Exec(ctx, req.Command, req.Params, req.Env)
				if err != nil {
					return nil, toRPC(err)
				}
				return res, nil
			},
		},
	}
}

// toRPC maps filesystem errors to ubus status codes.
func toRPC(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotAllowed), errors.Is(err, iofs.ErrPermission):
		return rpc.Errorf(rpc.StatusPermissionDenied, "%v", err)
	case errors.Is(err, iofs.ErrNotExist):
		return rpc.Errorf(rpc.StatusNotFound, "%v", err)
	case errors.Is(err, ErrTooLarge):
		return rpc.Errorf(rpc.StatusNotSupported, "%v", err)
	}
	return rpc.Errorf(rpc.StatusUnknownError, "%v", err)
}
