// Copyright © 2019 Binance
//
// This file is part of Binance. The full Binance copyright notice, including
// terms governing use, modification, and redistribution, is contained in the
// file LICENSE at the root of the source code distribution tree.

// Package ipc is the coordinator's control surface: a line-delimited
// protocol over a unix domain socket (§6), kept on stdlib net/bufio since
// nothing in the example pack wraps a plain-text line protocol in a
// heavier RPC framework (drand's control surface is gRPC, a poor fit for
// spec's one-line-per-command, human-typeable interface).
package ipc

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Handler answers one command line (already split into fields) with the
// text to write back to the client, one response per line.
type Handler func(args []string) (string, error)

// Server is the unix-socket line-protocol control server. Commands are
// §6's fixed list: peer_id, help, list_signer, dial, sign, loop_sign,
// list_pkid, start_dkg.
type Server struct {
	socketPath string
	log        *zap.SugaredLogger
	handlers   map[string]Handler
	listener   net.Listener
}

func NewServer(socketPath string, log *zap.SugaredLogger) *Server {
	return &Server{socketPath: socketPath, log: log, handlers: make(map[string]Handler)}
}

// Register associates a command name with its handler. help and
// list_signer/etc are registered by the caller (cmd/tssctl), not built in,
// so the handler table is the single source of truth for "help"'s output.
func (s *Server) Register(command string, h Handler) {
	s.handlers[command] = h
}

// Commands returns the registered command names, sorted by registration
// order is not guaranteed; callers needing a stable "help" listing sort
// them themselves.
func (s *Server) Commands() []string {
	out := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		out = append(out, name)
	}
	return out
}

// ListenAndServe removes any stale socket file, binds socketPath, and
// serves connections until ctx-independent Close is called. Each
// connection is handled on its own goroutine; each line on the connection
// is one command.
func (s *Server) ListenAndServe() error {
	_ = os.Remove(s.socketPath)
	l, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return errors.Wrapf(err, "ipc: listen %s", s.socketPath)
	}
	s.listener = l
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warnw("ipc: accept failed", "err", err)
			continue
		}
		go s.serveConn(conn)
	}
}

func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		handler, ok := s.handlers[cmd]
		if !ok {
			fmt.Fprintf(w, "error: unknown command %q\n", cmd)
			w.Flush()
			continue
		}
		resp, err := handler(args)
		if err != nil {
			fmt.Fprintf(w, "error: %s\n", err.Error())
		} else {
			fmt.Fprintf(w, "%s\n", resp)
		}
		w.Flush()
	}
}

// DialAndSend opens socketPath, sends one command line, closes its own
// write side so the server's read loop ends and the server closes the
// connection, and returns every response line written back before that
// close. Used by cmd/tssctl to talk to a running coordinator.
func DialAndSend(socketPath, command string) (string, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return "", errors.Wrapf(err, "ipc: dial %s", socketPath)
	}
	defer conn.Close()
	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return "", errors.Wrap(err, "ipc: write command")
	}
	if uc, ok := conn.(*net.UnixConn); ok {
		if err := uc.CloseWrite(); err != nil {
			return "", errors.Wrap(err, "ipc: close write")
		}
	}
	scanner := bufio.NewScanner(conn)
	var out strings.Builder
	for scanner.Scan() {
		out.WriteString(scanner.Text())
		out.WriteByte('\n')
	}
	return strings.TrimRight(out.String(), "\n"), nil
}
