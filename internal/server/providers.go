package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/samber/lo"
)

// OllamaProviderID is the catalog entry whose models are discovered from a
// local runtime rather than listed statically.
const OllamaProviderID = "ollama"

const discoveryTimeout = 2 * time.Second

// ModelLister discovers the models installed on a local runtime.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// OllamaModels lists models from an Ollama daemon.
type OllamaModels struct {
	client *api.Client
}

// NewOllamaModels creates a lister for the daemon at host, for example
// http://localhost:11434.
func NewOllamaModels(host string, hc *http.Client) (*OllamaModels, error) {
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &OllamaModels{client: api.NewClient(u, hc)}, nil
}

func (o *OllamaModels) ListModels(ctx context.Context) ([]string, error) {
	resp, err := o.client.List(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(resp.Models, func(m api.ListModelResponse, _ int) string { return m.Name }), nil
}

type providerView struct {
	Name   string   `json:"name"`
	Models []string `json:"models"`
	HasKey bool     `json:"has_key"`
}

// discover refreshes the Ollama model list in the registry. A daemon that
// is not running leaves the catalog list in place.
func (s *Server) discover(ctx context.Context) {
	if s.models == nil {
		return
	}
	if _, ok := s.registry.Lookup(OllamaProviderID); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()
	names, err := s.models.ListModels(ctx)
	if err != nil {
		s.logger.Debug("ollama discovery failed", "error", err)
		return
	}
	if len(names) > 0 {
		s.registry.SetModels(OllamaProviderID, names)
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.discover(r.Context())
	out := make(map[string]providerView)
	for _, p := range s.registry.List() {
		out[p.ID] = providerView{
			Name:   p.Name,
			Models: p.Models,
			HasKey: s.registry.HasKey(p.ID),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("provider")
	if id == "" {
		id = s.config().Chat.DefaultProvider
	}
	if id == OllamaProviderID {
		s.discover(r.Context())
	}
	p, ok := s.registry.Lookup(id)
	if !ok {
		writeErr(w, http.StatusNotFound, "unknown provider")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider": p.ID, "models": p.Models})
}
