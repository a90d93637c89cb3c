package tunnel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.ngrok.com/ngrok"
	"golang.ngrok.com/ngrok/config"
)

const shutdownTimeout = 5 * time.Second

// Listener is a public endpoint accepting connections for the local handler.
type Listener interface {
	net.Listener
	URL() string
}

type listenFunc func(ctx context.Context) (Listener, error)

// Tunnel serves an http.Handler on a public ngrok endpoint.
type Tunnel struct {
	handler http.Handler
	logger  *zap.Logger
	listen  listenFunc
}

func New(authToken string, handler http.Handler, logger *zap.Logger) *Tunnel {
	return newTunnel(handler, logger, func(ctx context.Context) (Listener, error) {
		tun, err := ngrok.Listen(ctx, config.HTTPEndpoint(), ngrok.WithAuthtoken(authToken))
		if err != nil {
			return nil, err
		}
		return tun, nil
	})
}

func newTunnel(handler http.Handler, logger *zap.Logger, listen listenFunc) *Tunnel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tunnel{handler: handler, logger: logger, listen: listen}
}

// Run opens the endpoint, reports its URL through onReady and serves until ctx is done.
func (t *Tunnel) Run(ctx context.Context, onReady func(url string)) error {
	ln, err := t.listen(ctx)
	if err != nil {
		return fmt.Errorf("open tunnel: %w", err)
	}
	url := ln.URL()
	t.logger.Info("tunnel established", zap.String("url", url))
	if onReady != nil {
		onReady(url)
	}

	srv := &http.Server{Handler: t.handler, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve tunnel: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			t.logger.Warn("tunnel shutdown", zap.Error(err))
		}
		return nil
	}
}
