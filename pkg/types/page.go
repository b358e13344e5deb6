package types

import (
	"encoding/json"
)

// PageMessageType tags the inner payload of a PageRequest. Pages speak a
// smaller protocol than trusted extension contexts; it shares the
// forward-tolerance rule (unknown kinds are dropped, never errored).
type PageMessageType string

const (
	// PagePing / PagePong form the liveness probe. PING is answered
	// whenever dApp access is enabled, before any session exists.
	PagePing PageMessageType = "PING"
	PagePong PageMessageType = "PONG"

	PageConnectRequest  PageMessageType = "CONNECT_REQUEST"
	PageConnectResponse PageMessageType = "CONNECT_RESPONSE"

	PageSignRequest  PageMessageType = "SIGN_REQUEST"
	PageSignResponse PageMessageType = "SIGN_RESPONSE"

	PageOperationRequest  PageMessageType = "OPERATION_REQUEST"
	PageOperationResponse PageMessageType = "OPERATION_RESPONSE"

	PageDisconnectRequest  PageMessageType = "DISCONNECT_REQUEST"
	PageDisconnectResponse PageMessageType = "DISCONNECT_RESPONSE"
)

// PageMessage is the sealed union of page payloads.
type PageMessage interface {
	PageType() PageMessageType
	isPageMessage()
}

// Ping is encoded on the wire as the bare JSON string "PING".
type Ping struct{}

type PageConnect struct {
	AppName string `json:"appName,omitempty"`
}

type PageConnectResult struct {
	AccountIDs []string `json:"accountIds"`
}

type PageSign struct {
	ID              string `json:"id"`
	SourceAccountID string `json:"sourceAccountId"`
	Bytes           string `json:"bytes"`
	Watermark       byte   `json:"watermark,omitempty"`
}

type PageSignResult struct {
	Signature string `json:"signature"`
}

type PageOperation struct {
	ID              string          `json:"id"`
	SourceAccountID string          `json:"sourceAccountId"`
	NetworkEndpoint string          `json:"networkEndpoint,omitempty"`
	OpParams        json.RawMessage `json:"opParams"`
}

type PageOperationResult struct {
	OpHash string `json:"opHash"`
}

type PageDisconnect struct{}

type PageDisconnectResult struct{}

func (Ping) PageType() PageMessageType                 { return PagePing }
func (PageConnect) PageType() PageMessageType          { return PageConnectRequest }
func (PageSign) PageType() PageMessageType             { return PageSignRequest }
func (PageOperation) PageType() PageMessageType        { return PageOperationRequest }
func (PageDisconnect) PageType() PageMessageType       { return PageDisconnectRequest }
func (PageConnectResult) PageType() PageMessageType    { return PageConnectResponse }
func (PageSignResult) PageType() PageMessageType       { return PageSignResponse }
func (PageOperationResult) PageType() PageMessageType  { return PageOperationResponse }
func (PageDisconnectResult) PageType() PageMessageType { return PageDisconnectResponse }

func (Ping) isPageMessage()                 {}
func (PageConnect) isPageMessage()          {}
func (PageSign) isPageMessage()             {}
func (PageOperation) isPageMessage()        {}
func (PageDisconnect) isPageMessage()       {}
func (PageConnectResult) isPageMessage()    {}
func (PageSignResult) isPageMessage()       {}
func (PageOperationResult) isPageMessage()  {}
func (PageDisconnectResult) isPageMessage() {}

var pageCtors = map[PageMessageType]func() PageMessage{
	PageConnectRequest:    func() PageMessage { return &PageConnect{} },
	PageSignRequest:       func() PageMessage { return &PageSign{} },
	PageOperationRequest:  func() PageMessage { return &PageOperation{} },
	PageDisconnectRequest: func() PageMessage { return &PageDisconnect{} },
}

// DecodePageMessage parses a page payload. A bare "PING" string is the
// probe; anything else uses the {"type": ...} envelope. Unknown kinds
// return ErrUnknownMessage.
func DecodePageMessage(raw []byte) (PageMessage, error) {
	var probe string
	if err := json.Unmarshal(raw, &probe); err == nil {
		if PageMessageType(probe) == PagePing {
			return &Ping{}, nil
		}
		return nil, ErrUnknownMessage
	}
	var env struct {
		Type PageMessageType `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrUnknownMessage
	}
	ctor, ok := pageCtors[env.Type]
	if !ok {
		return nil, ErrUnknownMessage
	}
	msg := ctor()
	if err := json.Unmarshal(raw, msg); err != nil {
		return nil, ErrUnknownMessage
	}
	return msg, nil
}

// EncodePageMessage produces the wire form of a page payload. PONG is
// encoded as a bare JSON string to mirror the probe.
func EncodePageMessage(msg PageMessage) (json.RawMessage, error) {
	if msg.PageType() == PagePong || msg.PageType() == PagePing {
		return json.Marshal(string(msg.PageType()))
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var merged map[string]interface{}
	if err := json.Unmarshal(body, &merged); err != nil {
		return nil, err
	}
	merged["type"] = msg.PageType()
	return json.Marshal(merged)
}

// Pong is the probe reply.
type Pong struct{}

func (Pong) PageType() PageMessageType { return PagePong }
func (Pong) isPageMessage()            {}
