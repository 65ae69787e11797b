package http

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// rawServer is a minimal keep-alive HTTP/1.1 server that records every request exactly as it
// arrived on the wire and answers it with whatever respond returns
type rawServer struct {
	ln       net.Listener
	requests chan string

	mu      sync.Mutex
	accepts int
}

func newRawServer(t *testing.T, respond func(head string, body []byte) string) *rawServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &rawServer{ln: ln, requests: make(chan string, 64)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.accepts++
			s.mu.Unlock()
			go s.serve(c, respond)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *rawServer) serve(c net.Conn, respond func(head string, body []byte) string) {
	defer c.Close()
	br := bufio.NewReader(c)
	for {
		head, body, err := readRawRequest(br)
		if err != nil {
			return
		}
		s.requests <- head + string(body)
		out := respond(head, body)
		if out == "" {
			// hang up without answering
			return
		}
		if _, err := io.WriteString(c, out); err != nil {
			return
		}
	}
}

func (s *rawServer) Addr() string {
	return s.ln.Addr().String()
}

func (s *rawServer) Accepts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts
}

// readRawRequest reads one request. Only Content-Length framed bodies are supported
func readRawRequest(br *bufio.Reader) (string, []byte, error) {
	var head strings.Builder
	length := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return "", nil, err
		}
		head.WriteString(line)
		if line == "\r\n" {
			break
		}
		if i := strings.IndexByte(line, ':'); i > 0 && strings.EqualFold(line[:i], "Content-Length") {
			length, _ = strconv.Atoi(strings.TrimSpace(line[i+1:]))
		}
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(br, body); err != nil {
		return "", nil, err
	}
	return head.String(), body, nil
}

func respondWith(resp string) func(string, []byte) string {
	return func(string, []byte) string {
		return resp
	}
}

// closedAddr returns an address nothing listens on
func closedAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// partialServer reads the request head on every connection, answers with partial and then either
// hangs up or stalls until the test ends
func partialServer(t *testing.T, partial string, hangUp bool) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan struct{})
	t.Cleanup(func() {
		close(done)
		ln.Close()
	})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				br := bufio.NewReader(c)
				for {
					line, err := br.ReadString('\n')
					if err != nil {
						return
					}
					if line == "\r\n" {
						break
					}
				}
				io.WriteString(c, partial)
				if !hangUp {
					<-done
				}
			}(c)
		}
	}()
	return ln.Addr().String()
}
