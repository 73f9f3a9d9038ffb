// Package httpapi is the REST front end of the directory, gateway and echo
// binaries. Relay failures are answered with HTTP 200 and an "error" field;
// only malformed requests get a 4xx status.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"userdir/directory"
	"userdir/gateway"
)

// Users is the relay the directory and gateway handlers use. *gateway.Directory
// satisfies it.
type Users interface {
	ListUsers(ctx context.Context) gateway.Result[[]directory.Record]
	GetUser(ctx context.Context, userID int32) gateway.Result[directory.Record]
	CreateUser(ctx context.Context, name, email string, age int32) gateway.Result[directory.Record]
	Probe(ctx context.Context) gateway.Result[int]
}

// Data is the relay the echo handler uses. *gateway.Echo satisfies it.
type Data interface {
	GetData(ctx context.Context, name string) gateway.Result[string]
}

type userListResponse struct {
	Users []directory.Record `json:"users"`
	Error string             `json:"error,omitempty"`
}

type createUserBody struct {
	Name  *string `json:"name" validate:"required"`
	Email *string `json:"email" validate:"required"`
	Age   *int32  `json:"age" validate:"required"`
}

type dataBody struct {
	Name *string `json:"name" validate:"required"`
}

type probeResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NewDirectoryHandler serves the directory's own REST API.
func NewDirectoryHandler(users Users, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users", listUsers(users))
	mux.HandleFunc("GET /api/users/{user_id}", getUser(users))
	mux.HandleFunc("POST /api/users", createUser(users))
	return wrap(mux, logger)
}

// NewGatewayHandler serves the gateway: the user list and a connectivity probe.
func NewGatewayHandler(users Users, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/users", listUsers(users))
	mux.HandleFunc("GET /api/test", probe(users))
	return wrap(mux, logger)
}

func NewEchoHandler(data Data, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/data", getData(data))
	return wrap(mux, logger)
}

func listUsers(users Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := users.ListUsers(r.Context())
		if !res.OK() {
			writeJSON(w, http.StatusOK, userListResponse{Users: []directory.Record{}, Error: res.Err})
			return
		}
		writeJSON(w, http.StatusOK, userListResponse{Users: res.Value})
	}
}

func getUser(users Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("user_id"), 10, 32)
		if err != nil {
			writeUnprocessable(w, "user_id must be an integer")
			return
		}

		res := users.GetUser(r.Context(), int32(id))
		if !res.OK() {
			writeJSON(w, http.StatusOK, errorResponse{Error: res.Err})
			return
		}
		writeJSON(w, http.StatusOK, res.Value)
	}
}

func createUser(users Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createUserBody
		if err := decodeBody(r, &body); err != nil {
			writeUnprocessable(w, err.Error())
			return
		}

		res := users.CreateUser(r.Context(), *body.Name, *body.Email, *body.Age)
		if !res.OK() {
			writeJSON(w, http.StatusOK, errorResponse{Error: res.Err})
			return
		}
		writeJSON(w, http.StatusOK, res.Value)
	}
}

func probe(users Users) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := users.Probe(r.Context())
		if !res.OK() {
			writeJSON(w, http.StatusOK, probeResponse{
				Status:  "error",
				Message: "Cannot connect to the directory service: " + res.Err,
			})
			return
		}
		writeJSON(w, http.StatusOK, probeResponse{
			Status:  "success",
			Message: fmt.Sprintf("Connected to the directory service, found %d users", res.Value),
		})
	}
}

func getData(data Data) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body dataBody
		if err := decodeBody(r, &body); err != nil {
			writeUnprocessable(w, err.Error())
			return
		}

		res := data.GetData(r.Context(), *body.Name)
		if !res.OK() {
			writeJSON(w, http.StatusOK, errorResponse{Error: res.Err})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": res.Value})
	}
}
