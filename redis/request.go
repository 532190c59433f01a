package redis

import (
	"fmt"
	"strconv"
	"strings"
)

// Req - convenient wrapper to create Request.
func Req(cmd string, args ...interface{}) Request {
	return Request{cmd, args}
}

// Request represents request to be passed to redis.
type Request struct {
	// Cmd is a redis command name. It may contain a space ("CLUSTER SLOTS"), then it is split into two words.
	Cmd string
	// Args are command arguments.
	Args []interface{}
}

func (r Request) String() string {
	args := r.Args
	if len(args) > 5 {
		args = args[:5]
	}
	argss := make([]string, 0, 1+len(args))
	for _, arg := range args {
		argStr, _ := ArgToString(arg)
		if len(argStr) > 32 {
			argStr = argStr[:32] + "..."
		}
		argss = append(argss, fmt.Sprintf("%q", argStr))
	}
	if len(r.Args) > 5 {
		argss = append(argss, "...")
	}
	return fmt.Sprintf("Req(%q, %s)", r.Cmd, strings.Join(argss, ", "))
}

// Key returns first field of request that should be used as a key for redis cluster.
func (r Request) Key() (string, bool) {
	var n int
	switch strings.ToUpper(r.Cmd) {
	case "RANDOMKEY", "PING", "INFO", "DBSIZE", "SCAN", "FLUSHDB", "FLUSHALL", "TIME":
		return "RANDOMKEY", false
	case "EVAL", "EVALSHA":
		n = 2
	case "BITOP":
		n = 1
	default:
		n = 0
	}
	if len(r.Args) <= n {
		return "", false
	}
	return ArgToString(r.Args[n])
}

// ArgToString returns string representation of an argument.
// Used in cluster to determine cluster slot.
// Have to be in sync with AppendRequest
func ArgToString(arg interface{}) (string, bool) {
	var keyBuf []byte
	switch v := arg.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int:
		keyBuf = strconv.AppendInt(nil, int64(v), 10)
	case uint:
		keyBuf = strconv.AppendUint(nil, uint64(v), 10)
	case int64:
		keyBuf = strconv.AppendInt(nil, v, 10)
	case uint64:
		keyBuf = strconv.AppendUint(nil, v, 10)
	case int32:
		keyBuf = strconv.AppendInt(nil, int64(v), 10)
	case uint32:
		keyBuf = strconv.AppendUint(nil, uint64(v), 10)
	case int16:
		keyBuf = strconv.AppendInt(nil, int64(v), 10)
	case uint16:
		keyBuf = strconv.AppendUint(nil, uint64(v), 10)
	case int8:
		keyBuf = strconv.AppendInt(nil, int64(v), 10)
	case uint8:
		keyBuf = strconv.AppendUint(nil, uint64(v), 10)
	case float32:
		keyBuf = strconv.AppendFloat(nil, float64(v), 'f', -1, 32)
	case float64:
		keyBuf = strconv.AppendFloat(nil, v, 'f', -1, 64)
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case nil:
		return "", true
	default:
		return "", false
	}
	return string(keyBuf), true
}

// Future is interface accepted by Sender to signal request completion.
type Future interface {
	// Resolve is called by sender to pass result (or error) for particular request.
	// Single future could be used for accepting multiple results.
	// n argument is used then to distinguish request this result is for.
	Resolve(res interface{}, n uint64)
	// Cancelled method could inform sender that request is abandoned.
	// It is called usually before sending request, and if Cancelled returns non-nil error,
	// then Sender calls Resolve with ErrRequestCancelled error wrapped around returned error.
	Cancelled() error
}

// FuncFuture simple wrapper that makes Future from function.
type FuncFuture func(res interface{}, n uint64)

// Cancelled implements Future.Cancelled (always false)
func (f FuncFuture) Cancelled() error { return nil }

// Resolve implements Future.Resolve (by calling wrapped function).
func (f FuncFuture) Resolve(res interface{}, n uint64) { f(res, n) }

// CancelledFuture checks cancellation of a future, and resolves it if it is cancelled.
// It returns true if future was resolved.
func CancelledFuture(cb Future, req Request, n uint64) bool {
	if err := cb.Cancelled(); err != nil {
		cb.Resolve(ErrRequestCancelled.Wrap(err, "request cancelled").WithProperty(EKRequest, req), n)
		return true
	}
	return false
}
