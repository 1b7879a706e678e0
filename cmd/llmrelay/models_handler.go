package main

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/stackbound/llmrelay"
	"github.com/stackbound/llmrelay/internal/logging"
)

const modelsFetchTimeout = 10 * time.Second

type modelList struct {
	Data []map[string]any `json:"data"`
}

// handleModels aggregates GET {base_url}/models across every configured
// provider concurrently and merges the results, deduplicating by model
// id. A provider that fails or times out is skipped; the aggregate never
// fails as a whole.
func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	cfg := s.store.Snapshot()
	logger := logging.FromContext(r.Context())

	var mu sync.Mutex
	seen := make(map[string]bool)
	var merged []map[string]any

	g, ctx := errgroup.WithContext(r.Context())
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, modelsFetchTimeout)
			defer cancel()

			req, err := http.NewRequestWithContext(fctx, http.MethodGet, p.Origin()+"/models", nil)
			if err != nil {
				return nil
			}
			if key := providerKey(p, r); key != "" {
				req.Header.Set("Authorization", "Bearer "+key)
			}
			resp, err := s.client.Do(req)
			if err != nil {
				logger.Warn("model list fetch failed", "provider", p.Name, "error", err)
				return nil
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 300 {
				logger.Warn("model list fetch failed", "provider", p.Name, "status", resp.StatusCode)
				return nil
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil
			}
			var list modelList
			if err := json.Unmarshal(body, &list); err != nil {
				logger.Warn("model list parse failed", "provider", p.Name, "error", err)
				return nil
			}

			mu.Lock()
			defer mu.Unlock()
			for _, entry := range list.Data {
				id, _ := entry["id"].(string)
				if id == "" || seen[id] {
					continue
				}
				seen[id] = true
				merged = append(merged, entry)
			}
			return nil
		})
	}
	_ = g.Wait()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   merged,
	})
}

// providerKey mirrors the dispatch credential choice for the model list:
// the provider's static key, else the inbound bearer token.
func providerKey(p *llmrelay.Provider, r *http.Request) string {
	if p.APIKey != "" {
		return p.APIKey
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}
