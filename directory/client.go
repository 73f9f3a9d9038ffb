package directory

import "context"

// Caller issues one RPC. *client.Client satisfies it.
type Caller interface {
	Call(ctx context.Context, serviceMethod string, args any, reply any) error
}

// Client is the typed stub for UserService. Errors are the caller's status
// errors, unchanged.
type Client struct {
	caller Caller
}

func NewClient(caller Caller) *Client {
	return &Client{caller: caller}
}

func (c *Client) GetUser(ctx context.Context, userID int32) (Record, error) {
	var rec Record
	err := c.caller.Call(ctx, ServiceName+".GetUser", &GetUserRequest{UserID: userID}, &rec)
	return rec, err
}

func (c *Client) CreateUser(ctx context.Context, name, email string, age int32) (Record, error) {
	var rec Record
	err := c.caller.Call(ctx, ServiceName+".CreateUser", &CreateUserRequest{Name: name, Email: email, Age: age}, &rec)
	return rec, err
}

func (c *Client) ListUsers(ctx context.Context) ([]Record, error) {
	var list UserList
	if err := c.caller.Call(ctx, ServiceName+".ListUsers", &Empty{}, &list); err != nil {
		return nil, err
	}
	if list.Users == nil {
		list.Users = []Record{}
	}
	return list.Users, nil
}
