package rpc

import (
	"fmt"
	"net"
	"net/rpc"

	"github.com/rs/zerolog"
)

// Server listens for peer RPCs and dispatches them to a Handler. One
// Server per node; it owns the listener's lifetime.
type Server struct {
	listener net.Listener
	log      zerolog.Logger
}

// Serve registers h as "Service" on its own net/rpc server and starts accepting
// connections on addr. It returns once the listener is bound; accepting
// happens on a background goroutine until Close is called.
func Serve(addr string, h Handler, log zerolog.Logger) (*Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("Service", NewService(h)); err != nil {
		return nil, fmt.Errorf("rpc: register service: %w", err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	s := &Server{listener: ln, log: log}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go server.ServeConn(conn)
		}
	}()
	s.log.Info().Str("addr", addr).Msg("rpc server listening")
	return s, nil
}

// Addr returns the bound listen address, useful when addr was ":0".
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Close() error {
	return s.listener.Close()
}
