package ledger

import "context"

// Performative is the typed message kind exchanged with the contract read and
// encode interface. Requests carry a GET_* performative; the matching success
// response carries the corresponding result performative. Anything else is an
// error response and callers must treat it as such.
type Performative string

const (
	PerformativeGetRawTransaction Performative = "get_raw_transaction"
	PerformativeGetState          Performative = "get_state"
	PerformativeRawTransaction    Performative = "raw_transaction"
	PerformativeState             Performative = "state"
	PerformativeError             Performative = "error"
)

// Request describes one contract read or encode operation.
type Request struct {
	Performative    Performative
	ContractAddress string
	ContractID      string
	Callable        string
	Kwargs          map[string]any
}

// Response carries the outcome of a Request. Body keys are callable specific;
// adapters document which keys they return.
type Response struct {
	Performative Performative
	Body         map[string]any
}

// IsSuccessFor reports whether the response performative matches the success
// performative expected for the given request performative.
func (r Response) IsSuccessFor(req Performative) bool {
	switch req {
	case PerformativeGetRawTransaction:
		return r.Performative == PerformativeRawTransaction
	case PerformativeGetState:
		return r.Performative == PerformativeState
	default:
		return false
	}
}

// ErrorResponse builds a uniform error response with a human readable message.
func ErrorResponse(message string) Response {
	return Response{
		Performative: PerformativeError,
		Body:         map[string]any{"message": message},
	}
}

// Client is the ledger read/encode interface consumed by the stage logic.
// Transport level failures are returned as errors; a reachable ledger that
// cannot satisfy the request answers with an error performative instead.
type Client interface {
	Request(ctx context.Context, req Request) (Response, error)
}
