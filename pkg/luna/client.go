// Package luna is a client for the webOS platform bus (luna-service2).
// The bus is reached through a JSON WebSocket bridge, see Dial.
package luna

import (
	"errors"
)

const CameraService = "com.webos.service.camera2"

// Token identifies a subscription. Zero is never a valid token.
type Token uint32

// Handler receives the raw JSON payload of a reply. For calls that fail
// on the transport level the handler is called once with empty payload.
type Handler func(payload string)

type Client interface {
	// Call sends request to uri. Handler may be nil for fire-and-forget calls.
	Call(uri, payload string, handler Handler) error

	// Subscribe sends request to uri and calls handler for every reply until Unsubscribe.
	Subscribe(uri, payload string, handler Handler) (Token, error)

	Unsubscribe(token Token) error

	Close() error
}

var ErrClosed = errors.New("luna: client closed")

func ServiceURI(service, method string) string {
	return "luna://" + service + "/" + method
}
