// Package directory owns the user directory: an in-memory record store, the
// UserService RPC endpoint serving it and a typed client for that endpoint.
package directory

// ServiceName is the name UserService is registered under.
const ServiceName = "UserService"

// Record is one user entry. Records are values; the store never hands out
// pointers into its own memory.
type Record struct {
	UserID    int32  `json:"user_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Age       int32  `json:"age"`
	CreatedAt string `json:"created_at"`
}

type GetUserRequest struct {
	UserID int32 `json:"user_id"`
}

type CreateUserRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int32  `json:"age"`
}

type Empty struct{}

type UserList struct {
	Users []Record `json:"users"`
}
