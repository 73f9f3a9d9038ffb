package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/urfave/cli"
	"google.golang.org/grpc/status"

	"userdir/client"
	"userdir/codec"
	"userdir/directory"
)

// session is one connection to the directory for the duration of a command.
type session struct {
	ctx   *cli.Context
	cli   *client.Client
	users *directory.Client
	out   io.Writer
}

func openSession(c *cli.Context) (*session, error) {
	codecType, err := codec.ParseCodecType(c.GlobalString("codec"))
	if err != nil {
		return nil, cli.NewExitError(err.Error(), 2)
	}
	cl := client.Dial(c.GlobalString("addr"), client.WithCodec(codecType), client.WithPoolSize(1))
	return &session{ctx: c, cli: cl, users: directory.NewClient(cl), out: c.App.Writer}, nil
}

func (s *session) Close() {
	s.cli.Close()
}

func (s *session) callContext() (context.Context, context.CancelFunc) {
	timeout := s.ctx.GlobalDuration("timeout")
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (s *session) list() error {
	ctx, cancel := s.callContext()
	defer cancel()

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return s.fail(err)
	}
	fmt.Fprintf(s.out, "Found %d users:\n", len(users))
	for _, u := range users {
		printUser(s.out, u)
	}
	return nil
}

func (s *session) get(id int32) error {
	ctx, cancel := s.callContext()
	defer cancel()

	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		return s.fail(err)
	}
	printUser(s.out, u)
	return nil
}

func (s *session) create(name, email string, age int32) error {
	ctx, cancel := s.callContext()
	defer cancel()

	u, err := s.users.CreateUser(ctx, name, email, age)
	if err != nil {
		return s.fail(err)
	}
	fmt.Fprintln(s.out, "Created user:")
	printUser(s.out, u)
	return nil
}

// fail prints the error detail and reports it as the command's error.
func (s *session) fail(err error) error {
	st := status.Convert(err)
	fmt.Fprintf(s.out, "Error: %s\n", st.Message())
	return cli.NewExitError(fmt.Sprintf("%s: %s", st.Code(), st.Message()), 1)
}

func printUser(w io.Writer, u directory.Record) {
	fmt.Fprintf(w, "  User ID: %d\n", u.UserID)
	fmt.Fprintf(w, "     Name: %s\n", u.Name)
	fmt.Fprintf(w, "    Email: %s\n", u.Email)
	fmt.Fprintf(w, "      Age: %d\n", u.Age)
	fmt.Fprintf(w, "  Created: %s\n", u.CreatedAt)
}

func parseID(s string) (int32, error) {
	id, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, cli.NewExitError(fmt.Sprintf("invalid user id %q", s), 2)
	}
	return int32(id), nil
}

func listCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.list()
}

func getCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.NewExitError("usage: userctl get <user_id>", 2)
	}
	id, err := parseID(c.Args().First())
	if err != nil {
		return err
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.get(id)
}

func createCommand(c *cli.Context) error {
	if c.NArg() != 3 {
		return cli.NewExitError("usage: userctl create <name> <email> <age>", 2)
	}
	age, err := strconv.ParseInt(c.Args().Get(2), 10, 32)
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("invalid age %q", c.Args().Get(2)), 2)
	}
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.create(c.Args().Get(0), c.Args().Get(1), int32(age))
}

// demoCommand walks through every operation. The lookup of a missing id is
// expected to fail and does not fail the demo.
func demoCommand(c *cli.Context) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	defer s.Close()

	rule := strings.Repeat("-", 50)
	step := func(title string) {
		fmt.Fprintf(s.out, "\n%s\n%s\n", title, rule)
	}

	step("Listing all users:")
	if err := s.list(); err != nil {
		return err
	}
	step("Creating a new user:")
	if err := s.create("Alice Williams", "alice@example.com", 28); err != nil {
		return err
	}
	step("Getting user with ID 1:")
	if err := s.get(1); err != nil {
		return err
	}
	step("Getting user with ID 999 (missing):")
	s.get(999)
	step("Listing all users again:")
	return s.list()
}
