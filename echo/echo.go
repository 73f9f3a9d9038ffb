// Package echo is the stateless DataService endpoint and its typed client.
package echo

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const ServiceName = "DataService"

type DataRequest struct {
	Name string `json:"name"`
}

type DataReply struct {
	Message string `json:"message"`
}

// Greeting is the reply GetData gives for name.
func Greeting(name string) string {
	return fmt.Sprintf("Hello %s, this is data from Server C (RPC System)", name)
}

type DataService struct {
	logger *zap.Logger
}

func NewDataService(logger *zap.Logger) *DataService {
	if logger == nil {
		logger = zap.L()
	}
	return &DataService{logger: logger.With(zap.String("service", ServiceName))}
}

// GetData never fails.
func (s *DataService) GetData(ctx context.Context, req *DataRequest, reply *DataReply) error {
	s.logger.Debug("get data", zap.String("operation", "GetData"), zap.String("name", req.Name))
	reply.Message = Greeting(req.Name)
	return nil
}

// Caller issues one RPC. *client.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, serviceMethod string, args any, reply any) error
}

type Client struct {
	caller Caller
}

func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

func (c *Client) GetData(ctx context.Context, name string) (string, error) {
	var reply DataReply
	if err := c.caller.Call(ctx, ServiceName+".GetData", &DataRequest{Name: name}, &reply); err != nil {
		return "", err
	}
	return reply.Message, nil
}
