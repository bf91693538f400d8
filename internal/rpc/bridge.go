package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"os"
	"strings"
	"sync"

	"grimm.is/luci/internal/logging"
)

// Local clients reach the bus through net/rpc on a unix socket. Payloads
// travel as JSON inside the gob envelope so that handlers can return any
// JSON-encodable value.

// CallArgs is the request of Bridge.Call.
type CallArgs struct {
	Object string
	Method string
	Args   json.RawMessage
}

// CallReply is the response of Bridge.Call.
type CallReply struct {
	Status  int
	Message string
	Data    json.RawMessage
}

// ListArgs is the request of Bridge.List.
type ListArgs struct {
	Patterns []string
}

// ListReply is the response of Bridge.List.
type ListReply struct {
	Signatures Signatures
}

// Bridge exposes a Bus as a net/rpc service named "Bus".
type Bridge struct {
	bus    *Bus
	logger *logging.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewBridge creates a bridge for bus.
func NewBridge(bus *Bus) *Bridge {
	return &Bridge{bus: bus, logger: logging.WithComponent("rpc")}
}

// Call is the net/rpc entry point for a bus call. Call failures are
// reported in the reply so that the status code survives the transport.
func (b *Bridge) Call(args *CallArgs, reply *CallReply) error {
	callArgs := Args{}
	if len(args.Args) > 0 && string(args.Args) != "null" {
		if err := json.Unmarshal(args.Args, &callArgs); err != nil {
			reply.Status = int(StatusInvalidArgument)
			reply.Message = err.Error()
			return nil
		}
	}

	res, err := b.bus.Call(context.Background(), args.Object, args.Method, callArgs)
	if err != nil {
		var e *Error
		if errors.As(err, &e) {
			reply.Message = e.Message
		}
		reply.Status = int(StatusOf(err))
		return nil
	}
	if res != nil {
		data, err := json.Marshal(res)
		if err != nil {
			reply.Status = int(StatusUnknownError)
			reply.Message = err.Error()
			return nil
		}
		reply.Data = data
	}
	return nil
}

// List is the net/rpc entry point for bus listing.
func (b *Bridge) List(args *ListArgs, reply *ListReply) error {
	reply.Signatures = b.bus.List(args.Patterns...)
	return nil
}

// Listen creates the unix socket at path, replacing a stale one.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", path, err)
	}
	// Only root and the daemon group may talk to the bus unauthenticated.
	if err := os.Chmod(path, 0660); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to set socket permissions: %w", err)
	}
	return l, nil
}

// Serve accepts connections on l until ctx is done or l is closed.
func (b *Bridge) Serve(ctx context.Context, l net.Listener) error {
	srv := rpc.NewServer()
	if err := srv.RegisterName("Bus", b); err != nil {
		return fmt.Errorf("failed to register RPC service: %w", err)
	}

	b.mu.Lock()
	b.listener = l
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	b.logger.Info("bus listening", "addr", l.Addr().String())
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("RPC connection handler panicked", "panic", r)
				}
			}()
			srv.ServeConn(conn)
		}()
	}
}

// Close stops accepting connections.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Close()
}

// SocketClient is a reconnecting net/rpc client for the local bus.
type SocketClient struct {
	path string

	mu     sync.RWMutex
	client *rpc.Client
}

// Dial connects to the bus socket at path.
func Dial(path string) (*SocketClient, error) {
	client, err := rpc.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bus at %s: %w", path, err)
	}
	return &SocketClient{path: path, client: client}, nil
}

// Close closes the connection.
func (c *SocketClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// Call implements Caller.
func (c *SocketClient) Call(ctx context.Context, object, method string, args Args) (any, error) {
	if args == nil {
		args = Args{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &Error{Object: object, Method: method, Status: StatusInvalidArgument, Message: err.Error()}
	}

	var reply CallReply
	if err := c.call(ctx, "Bus.Call", &CallArgs{Object: object, Method: method, Args: raw}, &reply); err != nil {
		return nil, &Error{Object: object, Method: method, Status: StatusConnectionFailed, Message: err.Error()}
	}
	if reply.Status != int(StatusOK) {
		return nil, &Error{Object: object, Method: method, Status: Status(reply.Status), Message: reply.Message}
	}
	if len(reply.Data) == 0 {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal(reply.Data, &data); err != nil {
		return nil, &Error{Object: object, Method: method, Status: StatusInvalidCommand, Message: err.Error()}
	}
	return data, nil
}

// List returns the bus signatures.
func (c *SocketClient) List(ctx context.Context, patterns ...string) (Signatures, error) {
	var reply ListReply
	if err := c.call(ctx, "Bus.List", &ListArgs{Patterns: patterns}, &reply); err != nil {
		return nil, err
	}
	return reply.Signatures, nil
}

// call wraps the RPC call with reconnection logic.
func (c *SocketClient) call(ctx context.Context, serviceMethod string, args, reply any) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		if err := c.reconnect(nil); err != nil {
			return err
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
	}

	err := c.invoke(ctx, client, serviceMethod, args, reply)
	if err == nil {
		return nil
	}

	if errors.Is(err, rpc.ErrShutdown) || isNetworkError(err) {
		if recErr := c.reconnect(client); recErr != nil {
			return fmt.Errorf("RPC call failed (%v) and reconnection failed: %w", err, recErr)
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
		return c.invoke(ctx, client, serviceMethod, args, reply)
	}
	return err
}

func (c *SocketClient) invoke(ctx context.Context, client *rpc.Client, serviceMethod string, args, reply any) error {
	call := client.Go(serviceMethod, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reconnect replaces oldClient unless another caller already did.
func (c *SocketClient) reconnect(oldClient *rpc.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != oldClient && c.client != nil {
		return nil
	}
	if c.client != nil {
		c.client.Close()
	}

	client, err := rpc.Dial("unix", c.path)
	if err != nil {
		return fmt.Errorf("failed to reconnect to bus: %w", err)
	}
	c.client = client
	return nil
}

func isNetworkError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection is shut down") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "bad file descriptor") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "use of closed network connection")
}
