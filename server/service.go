package server

import (
	"context"
	"fmt"
	"go/token"
	"reflect"
)

type methodType struct {
	method      reflect.Method
	ArgType     reflect.Type
	ReplyType   reflect.Type
	withContext bool // method takes a context.Context before its args
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// NewService builds a service from rcvr, named after rcvr's struct type.
func NewService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	return newService(typ.Elem().Name(), rcvr)
}

func newService(name string, rcvr any) (*service, error) {
	if !token.IsExported(name) {
		return nil, fmt.Errorf("rpc: service name %q is not exported", name)
	}
	srv := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    reflect.TypeOf(rcvr),
		method: make(map[string]*methodType),
	}
	srv.RegisterMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("rpc: service %s has no suitable methods", name)
	}
	return srv, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// RegisterMethods collects the exported methods shaped like
//
//	func (s *T) Method(ctx context.Context, args *Args, reply *Reply) error
//	func (s *T) Method(args *Args, reply *Reply) error
func (s *service) RegisterMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		first := 1
		withContext := false
		switch mt.NumIn() {
		case 3:
		case 4:
			if mt.In(1) != contextType {
				continue
			}
			first, withContext = 2, true
		default:
			continue
		}

		argType, replyType := mt.In(first), mt.In(first+1)
		if argType.Kind() != reflect.Ptr || replyType.Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:      method,
			ArgType:     argType.Elem(),
			ReplyType:   replyType.Elem(),
			withContext: withContext,
		}
	}
}

// Call invokes mType on the receiver.
func (s *service) Call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) error {
	var results []reflect.Value
	if mType.withContext {
		results = mType.method.Func.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv})
	} else {
		results = mType.method.Func.Call([]reflect.Value{s.rcvr, argv, replyv})
	}
	if err, _ := results[0].Interface().(error); err != nil {
		return err
	}
	return nil
}
