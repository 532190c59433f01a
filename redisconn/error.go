package redisconn

import (
	"github.com/joomcode/errorx"
)

var (
	// EKConnection - key for connection that handled request.
	EKConnection = errorx.RegisterPrintableProperty("connection")
	// EKDb - db number to select.
	EKDb = errorx.RegisterPrintableProperty("db")
)

func withNewProperty(err *errorx.Error, p errorx.Property, v interface{}) *errorx.Error {
	if _, ok := err.Property(p); ok {
		return err
	}
	return err.WithProperty(p, v)
}
