package natsclient

import "encoding/json"

// ErrorReply is the body sent when a request handler fails.
type ErrorReply struct {
	Error string `json:"error"`
}

func errorReply(err error) []byte {
	out, merr := json.Marshal(ErrorReply{Error: err.Error()})
	if merr != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return out
}
