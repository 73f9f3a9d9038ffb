package directory

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UserService exposes a Store over RPC as "UserService".
type UserService struct {
	store  *Store
	logger *zap.Logger
}

func NewUserService(store *Store, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.L()
	}
	return &UserService{store: store, logger: logger.With(zap.String("service", ServiceName))}
}

func (s *UserService) GetUser(ctx context.Context, req *GetUserRequest, reply *Record) error {
	s.logger.Debug("get user", zap.String("operation", "GetUser"), zap.Int32("user_id", req.UserID))

	rec, err := s.store.Get(req.UserID)
	if errors.Is(err, ErrNotFound) {
		return status.Errorf(codes.NotFound, "User with ID %d not found", req.UserID)
	}
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	*reply = rec
	return nil
}

func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest, reply *Record) error {
	rec, err := s.store.Insert(ctx, req.Name, req.Email, req.Age)
	if err != nil {
		return status.FromContextError(err).Err()
	}
	s.logger.Debug("created user", zap.String("operation", "CreateUser"), zap.Int32("user_id", rec.UserID))
	*reply = rec
	return nil
}

func (s *UserService) ListUsers(ctx context.Context, _ *Empty, reply *UserList) error {
	reply.Users = s.store.List()
	s.logger.Debug("list users", zap.String("operation", "ListUsers"), zap.Int("count", len(reply.Users)))
	return nil
}
