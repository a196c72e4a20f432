package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// HandlerKind names how a manifest task is completed.
type HandlerKind string

const KindVerify HandlerKind = "verify"

func (k HandlerKind) Known() bool {
	return k == KindVerify
}

type Mission struct {
	RequiredTasks []string `json:"required_tasks"`
	FinalCode     string   `json:"final_code"`
}

// Manifest is the remotely published list of completable items.
type Manifest struct {
	Tasks    map[string]HandlerKind `json:"tasks"`
	Codes    map[string]string      `json:"codes"`
	Missions map[string]Mission     `json:"missions"`
}

func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: %w", err)
	}
	return m, nil
}

// FetchManifest downloads and parses the manifest at url.
func FetchManifest(ctx context.Context, client *resty.Client, url string) (Manifest, error) {
	if client == nil {
		client = resty.New()
	}
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return Manifest{}, fmt.Errorf("fetch manifest: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Manifest{}, fmt.Errorf("fetch manifest: status %d", resp.StatusCode())
	}
	return ParseManifest(resp.Body())
}
