package gateway

import "encoding/json"

// frame is the single wire shape shared by all gateway messages. The three
// message kinds are distinguished by Type: "event" (server-pushed,
// unsolicited), "req" (client-initiated request) and "res" (response
// correlated by ID to a prior request).
type frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Params  any             `json:"params,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// body returns the response payload, preferring payload over result.
func (f *frame) body() json.RawMessage {
	if len(f.Payload) > 0 {
		return f.Payload
	}
	return f.Result
}

// challengeEvent is the event name the server pushes immediately after the
// socket opens; the client answers it with a connect request.
const challengeEvent = "connect.challenge"

// connectClient identifies this client to the gateway.
type connectClient struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

type connectAuth struct {
	Token string `json:"token,omitempty"`
}

// connectParams carries protocol version bounds, requested capability scopes,
// client identity, and the authentication token.
type connectParams struct {
	MinProtocol int           `json:"minProtocol"`
	MaxProtocol int           `json:"maxProtocol"`
	Client      connectClient `json:"client"`
	Role        string        `json:"role"`
	Scopes      []string      `json:"scopes"`
	Auth        *connectAuth  `json:"auth,omitempty"`
}

// helloPayload is the recognised success payload of the connect response.
type helloPayload struct {
	Type string `json:"type"`
}

const helloOK = "hello-ok"

// Event is a non-request-response server message delivered to subscribers.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Message is one entry of a remote conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Label   string `json:"label,omitempty"`
}

type injectParams struct {
	SessionKey string `json:"sessionKey"`
	Message    string `json:"message"`
	Label      string `json:"label,omitempty"`
}

type injectResult struct {
	MessageID string `json:"messageId"`
}

type historyParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

type historyResult struct {
	Messages []Message `json:"messages"`
}
