package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// InitData is the decoded mini-app launch payload handed over by the
// messaging client.
type InitData struct {
	Raw      string
	QueryID  string
	User     json.RawMessage
	AuthDate string
	Hash     string
}

var requiredInitFields = []string{"query_id", "user", "auth_date", "hash"}

func ParseInitData(raw string) (InitData, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return InitData{}, errors.New("empty init data")
	}

	params := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		params[k] = v
	}
	for _, field := range requiredInitFields {
		if params[field] == "" {
			return InitData{}, fmt.Errorf("init data: missing %s", field)
		}
	}

	userJSON, err := url.QueryUnescape(params["user"])
	if err != nil {
		return InitData{}, fmt.Errorf("init data: decode user: %w", err)
	}
	if !json.Valid([]byte(userJSON)) {
		return InitData{}, errors.New("init data: user is not valid JSON")
	}

	return InitData{
		Raw:      raw,
		QueryID:  params["query_id"],
		User:     json.RawMessage(userJSON),
		AuthDate: params["auth_date"],
		Hash:     params["hash"],
	}, nil
}

type syncRequest struct {
	DataCheckChain string      `json:"dataCheckChain"`
	InitData       syncPayload `json:"initData"`
}

type syncPayload struct {
	QueryID  string          `json:"query_id"`
	User     json.RawMessage `json:"user"`
	AuthDate string          `json:"auth_date"`
	Hash     string          `json:"hash"`
}

func (d InitData) syncRequest() syncRequest {
	return syncRequest{
		DataCheckChain: d.Raw,
		InitData: syncPayload{
			QueryID:  d.QueryID,
			User:     d.User,
			AuthDate: d.AuthDate,
			Hash:     d.Hash,
		},
	}
}
