package testbed

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joomcode/redismap/redis"
)

// Client is per-connection state of FakeServer.
type Client struct {
	// ReadOnly is set by READONLY command.
	ReadOnly bool
	// Asking is set by ASKING command and reset after next command.
	Asking bool
	// DB is set by SELECT command.
	DB int
}

// Handler answers single request. Command name in req[0] is upper-cased.
//
// Result is encoded as:
//   - nil as null bulk string
//   - string as status reply
//   - []byte as bulk string
//   - int, int64 as integer
//   - float64 as bulk string
//   - []string as array of bulk strings
//   - []interface{} as array
//   - error as error reply (text is sent as is, so "MOVED 1 host:port" works)
type Handler func(c *Client, req []string) interface{}

// FakeServer is a scripted redis server.
// It answers PING, SELECT, ASKING and READONLY itself, other commands are passed to Handler.
type FakeServer struct {
	handler Handler
	ln      net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	counts map[string]int
	closed bool
	wg     sync.WaitGroup
}

// NewFakeServer starts FakeServer listening on random local port.
func NewFakeServer(handler Handler) (*FakeServer, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &FakeServer{
		handler: handler,
		ln:      ln,
		conns:   make(map[net.Conn]struct{}),
		counts:  make(map[string]int),
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// StartFakeServer starts FakeServer which is closed on test cleanup.
func StartFakeServer(t testing.TB, handler Handler) *FakeServer {
	s, err := NewFakeServer(handler)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// Addr returns ip:port of server.
func (s *FakeServer) Addr() string {
	return s.ln.Addr().String()
}

// Port returns listening port.
func (s *FakeServer) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

// Count returns how many times command were received.
func (s *FakeServer) Count(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[strings.ToUpper(cmd)]
}

// DropConnections closes all accepted connections, but server continues to accept new ones.
func (s *FakeServer) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.Close()
		delete(s.conns, c)
	}
}

// Close stops server and closes all connections.
func (s *FakeServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

func (s *FakeServer) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			c.Close()
			return
		}
		s.conns[c] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.handle(c)
	}
}

func (s *FakeServer) handle(c net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
	}()
	r := bufio.NewReader(c)
	w := bufio.NewWriter(c)
	cl := &Client{}
	for {
		res := redis.ReadResponse(r)
		if redis.AsError(res) != nil {
			return
		}
		arr, ok := res.([]interface{})
		if !ok || len(arr) == 0 {
			return
		}
		req := make([]string, len(arr))
		for i, a := range arr {
			b, _ := a.([]byte)
			req[i] = string(b)
		}
		req[0] = strings.ToUpper(req[0])

		s.mu.Lock()
		s.counts[req[0]]++
		s.mu.Unlock()

		out := s.answer(cl, req)
		w.Write(AppendValue(nil, out))
		if r.Buffered() == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func (s *FakeServer) answer(cl *Client, req []string) interface{} {
	switch req[0] {
	case "PING":
		return "PONG"
	case "ASKING":
		cl.Asking = true
		return "OK"
	case "READONLY":
		cl.ReadOnly = true
		return "OK"
	case "SELECT":
		if len(req) < 2 {
			return errorReply("ERR wrong number of arguments for 'select' command")
		}
		db, err := strconv.Atoi(req[1])
		if err != nil {
			return errorReply("ERR invalid DB index")
		}
		cl.DB = db
		return "OK"
	}
	if s.handler == nil {
		return errorReply("ERR unknown command '" + req[0] + "'")
	}
	res := s.handler(cl, req)
	cl.Asking = false
	return res
}

type errorReply string

func (e errorReply) Error() string { return string(e) }

// Error returns error which is sent as is as error reply.
func Error(text string) error {
	return errorReply(text)
}

// AppendValue encodes value as RESP reply. See Handler for encoding rules.
func AppendValue(b []byte, v interface{}) []byte {
	switch val := v.(type) {
	case nil:
		return append(b, "$-1\r\n"...)
	case string:
		return append(append(append(b, '+'), val...), "\r\n"...)
	case []byte:
		return appendBulk(b, val)
	case int:
		return AppendValue(b, int64(val))
	case int64:
		return append(strconv.AppendInt(append(b, ':'), val, 10), "\r\n"...)
	case float64:
		return appendBulk(b, []byte(strconv.FormatFloat(val, 'f', -1, 64)))
	case []string:
		b = append(strconv.AppendInt(append(b, '*'), int64(len(val)), 10), "\r\n"...)
		for _, s := range val {
			b = appendBulk(b, []byte(s))
		}
		return b
	case []interface{}:
		b = append(strconv.AppendInt(append(b, '*'), int64(len(val)), 10), "\r\n"...)
		for _, el := range val {
			b = AppendValue(b, el)
		}
		return b
	case error:
		return append(append(append(b, '-'), val.Error()...), "\r\n"...)
	}
	return append(b, "-ERR unsupported reply type\r\n"...)
}

func appendBulk(b []byte, v []byte) []byte {
	b = append(strconv.AppendInt(append(b, '$'), int64(len(v)), 10), "\r\n"...)
	return append(append(b, v...), "\r\n"...)
}
