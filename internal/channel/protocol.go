package channel

import (
	"bytes"
	"encoding/json"
	"errors"
)

type connectFrame struct {
	Connect connectBody `json:"connect"`
	ID      uint64      `json:"id"`
}

type connectBody struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

type subscribeFrame struct {
	Subscribe subscribeBody `json:"subscribe"`
	ID        uint64        `json:"id"`
}

type subscribeBody struct {
	Channel string  `json:"channel"`
	Token   string  `json:"token"`
	Recover *bool   `json:"recover,omitempty"`
	Epoch   *string `json:"epoch,omitempty"`
	Offset  *uint64 `json:"offset,omitempty"`
}

const clientName = "js"

func buildConnectFrame(id uint64, token string) ([]byte, error) {
	return json.Marshal(connectFrame{Connect: connectBody{Token: token, Name: clientName}, ID: id})
}

// buildSubscribeFrame omits the resume fields when resume is nil, and each
// individual field that is still unknown.
func buildSubscribeFrame(id uint64, userID, token string, resume *Resume) ([]byte, error) {
	body := subscribeBody{Channel: "user:" + userID, Token: token}
	if resume != nil {
		body.Recover = resume.Recoverable
		body.Epoch = resume.Epoch
		body.Offset = resume.Offset
	}
	return json.Marshal(subscribeFrame{Subscribe: body, ID: id})
}

var keepaliveFrame = []byte(`{}`)

type messageKind int

const (
	messageOther messageKind = iota
	messageKeepalive
	messagePush
	messageReply
)

type inbound struct {
	ID        uint64           `json:"id"`
	Subscribe *subscribeResult `json:"subscribe"`
	Push      *pushBody        `json:"push"`
}

type subscribeResult struct {
	Recoverable *bool   `json:"recoverable"`
	Epoch       *string `json:"epoch"`
	Offset      *uint64 `json:"offset"`
}

type pushBody struct {
	Pub *publication `json:"pub"`
}

type publication struct {
	Data   json.RawMessage `json:"data"`
	Offset *uint64         `json:"offset"`
}

type pushData struct {
	Type string `json:"type"`
}

type message struct {
	kind      messageKind
	id        uint64
	subscribe *subscribeResult
	eventType string
	data      json.RawMessage
	offset    *uint64
}

// splitFrame returns the non-blank newline-delimited messages of one
// transport frame.
func splitFrame(frame []byte) [][]byte {
	var lines [][]byte
	for _, line := range bytes.Split(bytes.TrimSpace(frame), []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}
	return lines
}

var errNotObject = errors.New("message is not a JSON object")

func parseMessage(line []byte) (message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return message{}, err
	}
	if fields == nil {
		return message{}, errNotObject
	}
	if len(fields) == 0 {
		return message{kind: messageKeepalive}, nil
	}

	var in inbound
	if err := json.Unmarshal(line, &in); err != nil {
		return message{}, err
	}

	switch {
	case in.Push != nil:
		if in.Push.Pub == nil {
			return message{kind: messageOther}, nil
		}
		var d pushData
		if len(in.Push.Pub.Data) > 0 {
			_ = json.Unmarshal(in.Push.Pub.Data, &d)
		}
		return message{
			kind:      messagePush,
			eventType: d.Type,
			data:      in.Push.Pub.Data,
			offset:    in.Push.Pub.Offset,
		}, nil
	case in.ID != 0:
		return message{kind: messageReply, id: in.ID, subscribe: in.Subscribe}, nil
	default:
		return message{kind: messageOther}, nil
	}
}
