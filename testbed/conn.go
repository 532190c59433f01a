package testbed

import (
	"bufio"
	"net"
	"time"

	"github.com/joomcode/redismap/redis"
)

// Do sends single command over fresh connection and returns its result.
// It bypasses redisconn completely and is used to check server state in tests.
func Do(addr string, cmd string, args ...interface{}) interface{} {
	conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
	if err != nil {
		return redis.ErrDial.WrapWithNoMessage(err).WithProperty(redis.EKAddress, addr)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(1 * time.Second))
	req, rerr := redis.AppendRequest(nil, redis.Req(cmd, args...))
	if rerr != nil {
		return rerr
	}
	if _, err = conn.Write(req); err != nil {
		return redis.ErrIO.WrapWithNoMessage(err).WithProperty(redis.EKAddress, addr)
	}
	return redis.ReadResponse(bufio.NewReader(conn))
}
