package realtime

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
)

// Conn is one established subscription transport. gorilla's *websocket.Conn
// satisfies it directly.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// Dialer opens subscription transports. Tests substitute an in-memory
// implementation.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketDialer dials JSON-RPC websocket endpoints.
type WebSocketDialer struct{}

func (WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

const (
	methodSubscribe    = "accountSubscribe"
	methodUnsubscribe  = "accountUnsubscribe"
	methodHealth       = "getHealth"
	methodNotification = "accountNotification"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return e.Message }

// rpcMessage is either a response (ID set) or a push notification (Method set).
type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type notificationParams struct {
	Subscription uint64 `json:"subscription"`
	Result       struct {
		Value struct {
			Lamports *int64 `json:"lamports"`
		} `json:"value"`
	} `json:"result"`
}

var subscribeOptions = map[string]string{
	"commitment": "confirmed",
	"encoding":   "jsonParsed",
}
