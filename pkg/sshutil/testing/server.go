package testing

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
)

// Reply is what the test server answers to one exec request.
type Reply struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Delay    time.Duration
}

// Handler computes the reply for an exec request.
type Handler func(cmd string) Reply

// Server is an in-process SSH server accepting password auth and exec
// requests only. It exists so dial and exec paths can be tested without
// a real device.
type Server struct {
	Addr string

	listener net.Listener
	config   *ssh.ServerConfig
	handler  Handler

	mu     sync.Mutex
	conns  []net.Conn
	closed chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	handshakes atomic.Int64
	execs      atomic.Int64
}

// NewServer starts a server on 127.0.0.1 with a random port.
func NewServer(user, password string, handler Handler) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, err
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	s := &Server{
		Addr:     ln.Addr().String(),
		listener: ln,
		config:   config,
		handler:  handler,
		closed:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Handshakes returns how many SSH connections completed authentication.
func (s *Server) Handshakes() int {
	return int(s.handshakes.Load())
}

// Execs returns how many exec requests were served.
func (s *Server) Execs() int {
	return int(s.execs.Load())
}

// DropConnections closes every open connection but keeps accepting new
// ones, like a device timing out idle sessions.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

// Close stops accepting and drops every open connection.
func (s *Server) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.listener.Close()
		s.mu.Lock()
		for _, c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	_, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	s.handshakes.Add(1)
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "only session channels are supported")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, requests)
	}
}

func (s *Server) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()

	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)
		s.execs.Add(1)

		reply := s.handler(payload.Command)
		if reply.Delay > 0 {
			select {
			case <-time.After(reply.Delay):
			case <-s.closed:
				return
			}
		}

		_, _ = io.WriteString(ch, reply.Stdout)
		_, _ = io.WriteString(ch.Stderr(), reply.Stderr)
		status := struct{ Status uint32 }{uint32(reply.ExitCode)}
		_, _ = ch.SendRequest("exit-status", false, ssh.Marshal(&status))
		return
	}
}
