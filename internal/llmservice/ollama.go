package llmservice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"
)

// CheckOllama verifies an ollama server answers before any model is used,
// and reports whether the named model is pulled.
func CheckOllama(ctx context.Context, baseURL, model string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}
	client := api.NewClient(u, &http.Client{Timeout: 10 * time.Second})

	if err := client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama server at %s is not reachable: %w", baseURL, err)
	}

	list, err := client.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list ollama models: %w", err)
	}
	for _, m := range list.Models {
		if m.Name == model || m.Model == model || m.Name == model+":latest" {
			log.Debug().Str("model", model).Msg("Ollama model available")
			return nil
		}
	}
	return fmt.Errorf("ollama model %s is not pulled on %s", model, baseURL)
}
