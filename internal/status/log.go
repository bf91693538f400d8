package status

import (
	"context"

	"grimm.is/luci/internal/datatype"
	"grimm.is/luci/internal/logging"
	"grimm.is/luci/internal/rpc"
)

// Log serves luci.log. A tail names a log view, a file under one of
// Dirs, or nothing for the daemon's own buffer.
type Log struct {
	Views  func(name string) (logging.Source, logging.TailOptions, bool)
	Dirs   []string
	Reader *logging.LogReader
}

// Object returns the "luci.log" RPC object.
func (l *Log) Object() rpc.Object {
	return rpc.Object{
		"tail": {
			ReadOnly: true,
			Params: map[string]string{
				"view":   rpc.TypeString,
				"path":   rpc.TypeString,
				"lines":  rpc.TypeNumber,
				"filter": rpc.TypeString,
				"level":  rpc.TypeString,
			},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				src, opts, err := l.resolve(args)
				if err != nil {
					return nil, err
				}
				if n := args.Int("lines", 0); n > 0 {
					opts.Lines = n
				}
				if f := args.String("filter"); f != "" {
					opts.Pattern = f
				}
				if lv := args.String("level"); lv != "" {
					opts.Level = lv
				}

				r := l.Reader
				if r == nil {
					r = logging.NewLogReader()
				}
				entries, err := r.Tail(ctx, src, opts)
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusUnknownError, "%v", err)
				}
				if entries == nil {
					entries = []logging.Entry{}
				}
				return map[string]any{"entries": entries}, nil
			},
		},
	}
}

func (l *Log) resolve(args rpc.Args) (logging.Source, logging.TailOptions, error) {
	if name := args.String("view"); name != "" {
		if l.Views == nil {
			return logging.Source{}, logging.TailOptions{}, rpc.Errorf(rpc.StatusNotFound, "log view %q not found", name)
		}
		src, opts, ok := l.Views(name)
		if !ok {
			return logging.Source{}, logging.TailOptions{}, rpc.Errorf(rpc.StatusNotFound, "log view %q not found", name)
		}
		return src, opts, nil
	}
	if path := args.String("path"); path != "" {
		if err := datatype.ValidatePath(path, l.Dirs); err != nil {
			return logging.Source{}, logging.TailOptions{}, rpc.Errorf(rpc.StatusPermissionDenied, "%v", err)
		}
		return logging.Source{Kind: logging.SourceFile, Path: path}, logging.TailOptions{}, nil
	}
	return logging.Source{Kind: logging.SourceApp}, logging.TailOptions{}, nil
}
