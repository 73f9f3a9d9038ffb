// Package gateway relays front-end requests to the directory and echo
// endpoints. Every operation returns a Result: failures of any kind are
// folded into Result.Err, and the kind is only logged.
package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/status"

	"userdir/directory"
)

// ErrUserNotFound is the text every failed get-by-id relay reports.
const ErrUserNotFound = "User not found"

// Result is either a Value or a non-empty Err.
type Result[T any] struct {
	Value T
	Err   string
}

func (r Result[T]) OK() bool {
	return r.Err == ""
}

func success[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func failure[T any](msg string) Result[T] {
	return Result[T]{Err: msg}
}

// UserDirectory is the upstream the Directory relays to. *directory.Client
// satisfies it.
type UserDirectory interface {
	GetUser(ctx context.Context, userID int32) (directory.Record, error)
	CreateUser(ctx context.Context, name, email string, age int32) (directory.Record, error)
	ListUsers(ctx context.Context) ([]directory.Record, error)
}

type Option func(*options)

type options struct {
	logger      *zap.Logger
	callTimeout time.Duration
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithCallTimeout bounds each relay; zero leaves the caller's context alone.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) { o.callTimeout = d }
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.L()
	}
	return o
}

func (o options) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, o.callTimeout)
}

func (o options) logFailure(operation string, err error) {
	st := status.Convert(err)
	o.logger.Warn("relay failed",
		zap.String("operation", operation),
		zap.Stringer("code", st.Code()),
		zap.String("detail", st.Message()),
	)
}

// Directory relays user operations to UserService.
type Directory struct {
	upstream UserDirectory
	opts     options
}

func NewDirectory(upstream UserDirectory, opts ...Option) *Directory {
	return &Directory{upstream: upstream, opts: buildOptions(opts)}
}

func (d *Directory) ListUsers(ctx context.Context) Result[[]directory.Record] {
	ctx, cancel := d.opts.withTimeout(ctx)
	defer cancel()

	users, err := d.upstream.ListUsers(ctx)
	if err != nil {
		d.opts.logFailure("ListUsers", err)
		return failure[[]directory.Record](errorText(err))
	}
	return success(users)
}

func (d *Directory) GetUser(ctx context.Context, userID int32) Result[directory.Record] {
	ctx, cancel := d.opts.withTimeout(ctx)
	defer cancel()

	rec, err := d.upstream.GetUser(ctx, userID)
	if err != nil {
		d.opts.logFailure("GetUser", err)
		return failure[directory.Record](ErrUserNotFound)
	}
	return success(rec)
}

func (d *Directory) CreateUser(ctx context.Context, name, email string, age int32) Result[directory.Record] {
	ctx, cancel := d.opts.withTimeout(ctx)
	defer cancel()

	rec, err := d.upstream.CreateUser(ctx, name, email, age)
	if err != nil {
		d.opts.logFailure("CreateUser", err)
		return failure[directory.Record](errorText(err))
	}
	return success(rec)
}

// Probe checks that the directory answers and reports how many users it holds.
func (d *Directory) Probe(ctx context.Context) Result[int] {
	ctx, cancel := d.opts.withTimeout(ctx)
	defer cancel()

	users, err := d.upstream.ListUsers(ctx)
	if err != nil {
		d.opts.logFailure("Probe", err)
		return failure[int](errorText(err))
	}
	return success(len(users))
}

// DataSource is the upstream Echo relays to. *echo.Client satisfies it.
type DataSource interface {
	GetData(ctx context.Context, name string) (string, error)
}

// Echo relays GetData to DataService.
type Echo struct {
	upstream DataSource
	opts     options
}

func NewEcho(upstream DataSource, opts ...Option) *Echo {
	return &Echo{upstream: upstream, opts: buildOptions(opts)}
}

func (e *Echo) GetData(ctx context.Context, name string) Result[string] {
	ctx, cancel := e.opts.withTimeout(ctx)
	defer cancel()

	msg, err := e.upstream.GetData(ctx, name)
	if err != nil {
		e.opts.logFailure("GetData", err)
		return failure[string](errorText(err))
	}
	return success(msg)
}

// errorText is the human-readable part of err, without the status code prefix.
func errorText(err error) string {
	msg := status.Convert(err).Message()
	if msg == "" {
		msg = err.Error()
	}
	return msg
}
