package auth

import (
	"context"
	"errors"

	"grimm.is/luci/internal/rpc"
)

// ACL authorizes bus calls by session.
//
// The anonymous session may only log in. Viewers may call read-only
// methods. Admins may call everything. With Require off every caller is
// treated as an admin.
type ACL struct {
	store   *Store
	require bool
}

// NewACL creates the access policy over store.
func NewACL(store *Store, require bool) *ACL {
	return &ACL{store: store, require: require}
}

// Require reports whether login is enforced.
func (a *ACL) Require() bool { return a.require }

// openSession stands in for a login when authentication is disabled.
var openSession = &Session{ID: rpc.AnonymousSID, Username: "root", Role: RoleAdmin}

// public lists the methods the anonymous session may call.
var public = map[string]map[string]bool{
	"session": {"login": true},
}

// Allowed reports whether role may invoke object.method.
func Allowed(role Role, object, method string, readOnly bool) bool {
	if object == "session" {
		return true
	}
	if readOnly {
		return role.CanAccess("view")
	}
	return role.CanAccess("modify")
}

// Resolve returns the session for sid. With Require off an unknown sid
// resolves to the built-in admin session.
func (a *ACL) Resolve(sid string) (*Session, error) {
	if sid != "" && sid != rpc.AnonymousSID {
		sess, err := a.store.Session(sid)
		if err == nil {
			return sess, nil
		}
		if a.require {
			return nil, err
		}
	}
	if !a.require {
		return openSession, nil
	}
	return nil, ErrSessionInvalid
}

// Authorize implements rpc.Authorizer.
func (a *ACL) Authorize(ctx context.Context, sid, object, method string, readOnly bool) (context.Context, error) {
	if public[object][method] {
		return ctx, nil
	}
	sess, err := a.Resolve(sid)
	if err != nil {
		return nil, rpc.Errorf(rpc.StatusPermissionDenied, "%v", err)
	}
	if !Allowed(sess.Role, object, method, readOnly) {
		return nil, rpc.Errorf(rpc.StatusPermissionDenied, "role %s may not call %s.%s", sess.Role, object, method)
	}
	return WithSession(ctx, sess), nil
}

// Object returns the "session" RPC object.
func (a *ACL) Object() rpc.Object {
	return rpc.Object{
		"login": {
			Params: map[string]string{"username": rpc.TypeString, "password": rpc.TypeString, "timeout": rpc.TypeNumber},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				sess, err := a.store.Authenticate(args.String("username"), args.String("password"))
				if err != nil {
					return nil, rpc.Errorf(rpc.StatusPermissionDenied, "%v", err)
				}
				return a.reply(sess), nil
			},
		},
		"destroy": {
			Params: map[string]string{"ubus_rpc_session": rpc.TypeString},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				id := args.String("ubus_rpc_session")
				if id == "" {
					if sess := SessionFromContext(ctx); sess != nil {
						id = sess.ID
					}
				}
				if err := a.store.Destroy(id); err != nil {
					return nil, rpc.Errorf(rpc.StatusNotFound, "%v", err)
				}
				return nil, nil
			},
		},
		"access": {
			ReadOnly: true,
			Params:   map[string]string{"object": rpc.TypeString, "function": rpc.TypeString, "write": rpc.TypeBoolean},
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				sess := SessionFromContext(ctx)
				if sess == nil {
					return map[string]any{"access": false}, nil
				}
				ok := Allowed(sess.Role, args.String("object"), args.String("function"), !args.Bool("write"))
				return map[string]any{"access": ok}, nil
			},
		},
		"get": {
			ReadOnly: true,
			Handler: func(ctx context.Context, args rpc.Args) (any, error) {
				sess := SessionFromContext(ctx)
				if sess == nil {
					return nil, rpc.ErrNotFound
				}
				return a.reply(sess), nil
			},
		},
	}
}

func (a *ACL) reply(sess *Session) map[string]any {
	return map[string]any{
		"ubus_rpc_session": sess.ID,
		"timeout":          int(a.store.TTL().Seconds()),
		"expires":          int(sess.Timeout(a.store.clock.Now()).Seconds()),
		"data": map[string]any{
			"username": sess.Username,
			"role":     string(sess.Role),
		},
	}
}

// IsDenied reports whether err is an authorization failure.
func IsDenied(err error) bool {
	return errors.Is(err, rpc.ErrPermissionDenied) ||
		errors.Is(err, ErrSessionInvalid) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrInvalidCredentials)
}
