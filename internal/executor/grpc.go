package executor

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the gRPC service implemented by remote executor backends.
const ServiceName = "leash.executor.v1.Executor"

// SessionMetadataKey carries the executor session ID on Execute calls.
const SessionMetadataKey = "leash-session-id"

const (
	methodCreate  = "/" + ServiceName + "/CreateSession"
	methodExecute = "/" + ServiceName + "/Execute"
	methodKill    = "/" + ServiceName + "/KillSession"
	methodAlive   = "/" + ServiceName + "/SessionAlive"
)

// GRPC is an Executor backed by a remote gRPC executor service.
// It is safe for concurrent use.
type GRPC struct {
	conn *grpc.ClientConn
	sess handle
}

var _ Executor = (*GRPC)(nil)

// DialGRPC creates a client for the executor service at addr.
func DialGRPC(addr string, opts ...grpc.DialOption) (*GRPC, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to executor: %w", err)
	}
	return &GRPC{conn: conn}, nil
}

// NewGRPC wraps an existing connection. sessionID may be empty; a non-empty
// value attaches to an existing remote session (used by out-of-band kill).
func NewGRPC(conn *grpc.ClientConn, sessionID string) *GRPC {
	g := &GRPC{conn: conn}
	g.sess.set(sessionID)
	return g
}

// Attach sets the remote session the client operates on.
func (g *GRPC) Attach(sessionID string) {
	g.sess.set(sessionID)
}

// Create opens the remote session if none is open and returns its ID.
func (g *GRPC) Create(ctx context.Context) (string, error) {
	return g.sess.open(ctx, g.createRemote, g.killRemote)
}

func (g *GRPC) createRemote(ctx context.Context) (string, error) {
	out := new(wrapperspb.StringValue)
	if err := g.conn.Invoke(ctx, methodCreate, &emptypb.Empty{}, out); err != nil {
		return "", fmt.Errorf("create session: %w", fromStatus(err))
	}
	if out.GetValue() == "" {
		return "", errors.New("create session: executor returned no session ID")
	}
	return out.GetValue(), nil
}

// Execute runs a task in the remote session, creating one if needed.
func (g *GRPC) Execute(ctx context.Context, task string) (string, error) {
	id, err := g.Create(ctx)
	if err != nil {
		return "", err
	}

	ctx = metadata.AppendToOutgoingContext(ctx, SessionMetadataKey, id)
	out := new(wrapperspb.StringValue)
	if err := g.conn.Invoke(ctx, methodExecute, wrapperspb.String(task), out); err != nil {
		return "", fromStatus(err)
	}
	return out.GetValue(), nil
}

// Kill ends the remote session. A session that is already gone is not an error.
// A create still in flight is torn down when it completes.
func (g *GRPC) Kill(ctx context.Context) error {
	id := g.sess.take()
	if id == "" {
		return nil
	}
	return g.killRemote(ctx, id)
}

func (g *GRPC) killRemote(ctx context.Context, id string) error {
	err := g.conn.Invoke(ctx, methodKill, wrapperspb.String(id), &emptypb.Empty{})
	if err != nil && !errors.Is(fromStatus(err), ErrNotFound) {
		return fmt.Errorf("kill session %s: %w", id, err)
	}
	return nil
}

// IsAlive reports whether the remote session is still running.
func (g *GRPC) IsAlive(ctx context.Context) (bool, error) {
	id := g.SessionID()
	if id == "" {
		return false, nil
	}
	out := new(wrapperspb.BoolValue)
	if err := g.conn.Invoke(ctx, methodAlive, wrapperspb.String(id), out); err != nil {
		if errors.Is(fromStatus(err), ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("session status: %w", err)
	}
	return out.GetValue(), nil
}

// SessionID returns the current remote session ID, or "".
func (g *GRPC) SessionID() string {
	return g.sess.get()
}

// Close closes the gRPC connection.
func (g *GRPC) Close() error {
	return g.conn.Close()
}

func fromStatus(err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, status.Convert(err).Message())
	}
	return err
}

func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(codes.Unknown, err.Error())
}

// Backend is the server side of the executor service.
// Implementations return ErrNotFound for unknown session IDs.
type Backend interface {
	CreateSession(ctx context.Context) (string, error)
	Execute(ctx context.Context, sessionID, task string) (string, error)
	KillSession(ctx context.Context, sessionID string) error
	SessionAlive(ctx context.Context, sessionID string) (bool, error)
}

// RegisterBackend registers b as the executor service on s.
func RegisterBackend(s grpc.ServiceRegistrar, b Backend) {
	s.RegisterService(&serviceDesc, b)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Backend)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateSession", Handler: createHandler},
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "KillSession", Handler: killHandler},
		{MethodName: "SessionAlive", Handler: aliveHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "leash/executor/v1/executor.proto",
}

type unaryFunc func(ctx context.Context, req any) (any, error)

func intercept(ctx context.Context, req any, method string, fn unaryFunc, interceptor grpc.UnaryServerInterceptor) (any, error) {
	if interceptor == nil {
		return fn(ctx, req)
	}
	info := &grpc.UnaryServerInfo{FullMethod: method}
	return interceptor(ctx, req, info, grpc.UnaryHandler(fn))
}

func createHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	return intercept(ctx, in, methodCreate, func(ctx context.Context, _ any) (any, error) {
		id, err := srv.(Backend).CreateSession(ctx)
		if err != nil {
			return nil, toStatus(err)
		}
		return wrapperspb.String(id), nil
	}, interceptor)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	return intercept(ctx, in, methodExecute, func(ctx context.Context, req any) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		ids := md.Get(SessionMetadataKey)
		if len(ids) == 0 || ids[0] == "" {
			return nil, status.Error(codes.InvalidArgument, "missing "+SessionMetadataKey)
		}
		out, err := srv.(Backend).Execute(ctx, ids[0], req.(*wrapperspb.StringValue).GetValue())
		if err != nil {
			return nil, toStatus(err)
		}
		return wrapperspb.String(out), nil
	}, interceptor)
}

func killHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	return intercept(ctx, in, methodKill, func(ctx context.Context, req any) (any, error) {
		if err := srv.(Backend).KillSession(ctx, req.(*wrapperspb.StringValue).GetValue()); err != nil {
			return nil, toStatus(err)
		}
		return &emptypb.Empty{}, nil
	}, interceptor)
}

func aliveHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	return intercept(ctx, in, methodAlive, func(ctx context.Context, req any) (any, error) {
		alive, err := srv.(Backend).SessionAlive(ctx, req.(*wrapperspb.StringValue).GetValue())
		if err != nil {
			return nil, toStatus(err)
		}
		return wrapperspb.Bool(alive), nil
	}, interceptor)
}
