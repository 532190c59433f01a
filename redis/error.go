package redis

import (
	"github.com/joomcode/errorx"
)

var (
	// Errors is a root namespace of all errors of this module.
	Errors = errorx.NewNamespace("redismap").ApplyModifiers(errorx.TypeModifierOmitStackTrace)

	// ErrTraitNotSent signals request were not written to wire and could be safely retried.
	ErrTraitNotSent = errorx.RegisterTrait("request_not_sent")
	// ErrTraitConnectivity marks all networking and io errors
	ErrTraitConnectivity = errorx.RegisterTrait("network")
	// ErrTraitClusterMove signals that error happens due to cluster rebalancing.
	ErrTraitClusterMove = errorx.RegisterTrait("cluster_move")

	// ErrOpts - options are wrong
	ErrOpts = Errors.NewSubNamespace("opts")
	// ErrContextIsNil - context is not passed to constructor
	ErrContextIsNil = ErrOpts.NewType("context_is_nil")
	// ErrNoAddressProvided - no address is given to constructor
	ErrNoAddressProvided = ErrOpts.NewType("no_address")
	// ErrReadFrom - unknown read preference
	ErrReadFrom = ErrOpts.NewType("read_from")

	// ErrContextClosed - context were explicitly closed (or connection / cluster were shut down)
	ErrContextClosed = Errors.NewType("connection_context_closed", ErrTraitNotSent)

	// ErrConnection - connection was not established at the moment request were done,
	// request is definitely not sent anywhere.
	ErrConnection = Errors.NewSubNamespace("connection", ErrTraitNotSent, ErrTraitConnectivity)
	// ErrNotConnected - connection were not established at the moment
	ErrNotConnected = ErrConnection.NewType("not_connected")
	// ErrDial - could not connect.
	ErrDial = ErrConnection.NewType("could_not_connect")
	// ErrAuth - password didn't match
	ErrAuth = ErrConnection.NewType("could_not_auth")
	// ErrConnSetup - other connection initialization error (including io errors)
	ErrConnSetup = ErrConnection.NewType("initialization_error")

	// ErrIO - io error: read/write error, or timeout, or connection closed while reading/writing
	// It is not known if request were processed or not
	ErrIO = Errors.NewType("io", ErrTraitConnectivity)

	// ErrRequest - request malformed. Can not serialize request, no reason to retry.
	ErrRequest = Errors.NewSubNamespace("request")
	// ErrArgumentType - argument is not serializable
	ErrArgumentType = ErrRequest.NewType("argument_type")
	// ErrBatchFormat - some other command in batch is malformed
	ErrBatchFormat = ErrRequest.NewType("batch_format")
	// ErrRequestCancelled - request already cancelled
	ErrRequestCancelled = ErrRequest.NewType("request_cancelled")
	// ErrCommandForbidden - command is blocking or dangerous
	ErrCommandForbidden = ErrRequest.NewType("command_forbidden")

	// ErrResponse - response malformed. Redis returns unexpected response.
	ErrResponse = Errors.NewSubNamespace("response")
	// ErrResponseFormat - response is not valid Redis response
	ErrResponseFormat = ErrResponse.NewType("format")
	// ErrResponseUnexpected - response is valid redis response, but its structure/type unexpected
	ErrResponseUnexpected = ErrResponse.NewType("unexpected")
	// ErrHeaderlineTooLarge - header line too large
	ErrHeaderlineTooLarge = ErrResponse.NewType("headerline_too_large")
	// ErrHeaderlineEmpty - header line is empty
	ErrHeaderlineEmpty = ErrResponse.NewType("headerline_empty")
	// ErrIntegerParsing - integer malformed
	ErrIntegerParsing = ErrResponse.NewType("integer_parsing")
	// ErrNoFinalRN - no final "\r\n"
	ErrNoFinalRN = ErrResponse.NewType("no_final_rn")
	// ErrUnknownHeaderType - unknown header type
	ErrUnknownHeaderType = ErrResponse.NewType("unknown_headerline_type")
	// ErrPing - ping receives wrong response
	ErrPing = ErrResponse.NewType("ping")

	// ErrResult - just regular redis response.
	ErrResult = Errors.NewType("result")
	// ErrMoved - MOVED response
	ErrMoved = ErrResult.NewSubtype("moved", ErrTraitClusterMove)
	// ErrAsk - ASK response
	ErrAsk = ErrResult.NewSubtype("ask", ErrTraitClusterMove)
	// ErrLoading - redis didn't finish start
	ErrLoading = ErrResult.NewSubtype("loading", ErrTraitNotSent)
	// ErrExecEmpty - EXEC returns nil (WATCH failed) (it is strange, cause we don't support WATCH)
	ErrExecEmpty = ErrResult.NewSubtype("exec_empty")
	// ErrExecAbort - EXEC returns EXECABORT
	ErrExecAbort = ErrResult.NewSubtype("exec_abort")
	// ErrReadOnly - write command were sent to replica
	ErrReadOnly = ErrResult.NewSubtype("readonly")
)

var (
	// EKLine - set by response parser for unrecognized header lines.
	EKLine = errorx.RegisterProperty("line")
	// EKMovedTo - set by response parser for MOVED and ASK responses.
	EKMovedTo = errorx.RegisterProperty("movedto")
	// EKSlot - set by response parser for MOVED and ASK responses.
	EKSlot = errorx.RegisterPrintableProperty("slot")
	// EKVal - set by request writer and checker to argument value which could not be serialized.
	EKVal = errorx.RegisterPrintableProperty("val")
	// EKArgPos - set by request writer and checker to argument position which could not be serialized.
	EKArgPos = errorx.RegisterPrintableProperty("argpos")
	// EKRequest - request that triggered error.
	EKRequest = errorx.RegisterPrintableProperty("request")
	// EKRequests - batch requests that triggered error.
	EKRequests = errorx.RegisterPrintableProperty("requests")
	// EKResponse - unexpected response
	EKResponse = errorx.RegisterPrintableProperty("response")
	// EKAddress - address of redis that has a problems
	EKAddress = errorx.RegisterPrintableProperty("address")
)

// AsErrorx casts interface to *errorx.Error.
// It panics if value is error but not *redis.Error.
func AsErrorx(v interface{}) *errorx.Error {
	e, _ := v.(*errorx.Error)
	if e == nil {
		if _, ok := v.(error); ok {
			panic(errorx.IllegalArgument.New("result should be either *errorx.Error, or not error at all, but got %#v", v))
		}
	}
	return e
}

// AsError casts interface to error (if it is error)
func AsError(v interface{}) error {
	e, _ := v.(error)
	return e
}

// HardError returns true if error is not a regular redis reply error.
func HardError(err *errorx.Error) bool {
	return err != nil && !err.IsOfType(ErrResult)
}

func withNewProperty(err *errorx.Error, p errorx.Property, v interface{}) *errorx.Error {
	if _, ok := err.Property(p); ok {
		return err
	}
	return err.WithProperty(p, v)
}

// WithRequest adds request to error's properties, unless it were already set.
func WithRequest(err *errorx.Error, req Request) *errorx.Error {
	return withNewProperty(err, EKRequest, req)
}
