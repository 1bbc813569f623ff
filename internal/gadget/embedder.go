package gadget

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/GriffinCanCode/gadgetry/internal/channel"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/config"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/tracing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Embedder opens the execution context of an isolated gadget and returns
// the transport to it
type Embedder interface {
	Embed(ctx context.Context, url string) (channel.Transport, error)
}

// LocalEmbedder runs isolated gadgets as child pages in this process
type LocalEmbedder struct {
	opts Options
}

// NewLocalEmbedder creates child pages with opts; nested isolated gadgets
// use the same embedder
func NewLocalEmbedder(opts Options) *LocalEmbedder {
	return &LocalEmbedder{opts: opts}
}

func (e *LocalEmbedder) Embed(_ context.Context, url string) (channel.Transport, error) {
	parentEnd, childEnd := channel.Pipe()

	opts := e.opts
	opts.Embedder = e
	child := NewPage(opts)

	go func() {
		if err := child.Embed(child.Context(), url, childEnd); err != nil {
			child.logger.Debug("isolated gadget failed", zap.String("url", url), zap.Error(err))
		}
	}()
	return parentEnd, nil
}

// RemoteEmbedder hosts isolated gadgets on a frame server reached over
// websocket
type RemoteEmbedder struct {
	Endpoint string
	Header   http.Header
}

func (e *RemoteEmbedder) Embed(ctx context.Context, gadgetURL string) (channel.Transport, error) {
	endpoint, err := url.Parse(e.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("frame endpoint %q: %w", e.Endpoint, err)
	}
	q := endpoint.Query()
	q.Set("url", gadgetURL)
	q.Set("session", uuid.NewString())
	endpoint.RawQuery = q.Encode()

	header := tracing.Header(ctx)
	for k, v := range e.Header {
		header[k] = v
	}

	ws, err := channel.Dial(ctx, endpoint.String(), header)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

// NewEmbedder selects the embedder configured by cfg
func NewEmbedder(cfg config.FramesConfig, opts Options) (Embedder, error) {
	switch cfg.Mode {
	case "", "local":
		return NewLocalEmbedder(opts), nil
	case "remote":
		return &RemoteEmbedder{Endpoint: cfg.Endpoint}, nil
	}
	return nil, fmt.Errorf("unknown frames mode %q", cfg.Mode)
}
