// Package http reads images over http and https.
package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	nethttp "net/http"
	"net/url"
	"time"

	"github.com/islishude/imgfetch/internal/locator"
)

type Store struct {
	client *nethttp.Client
}

type Settings struct {
	// Timeout bounds connecting and waiting for response headers. The body
	// itself may take as long as it needs.
	Timeout      time.Duration
	Insecure     bool
	MaxRedirects int
}

type Metadata struct {
	Size int64
}

// StatusError is returned for responses with a status of 400 or more.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP error %d", e.Code) }

func New(settings Settings) *Store {
	dialer := &net.Dialer{
		Timeout:   settings.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &nethttp.Transport{
		Proxy:                 nethttp.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: settings.Insecure}, //nolint:gosec
		TLSHandshakeTimeout:   settings.Timeout,
		ResponseHeaderTimeout: settings.Timeout,
		// images are usually compressed already and the sniffer needs the
		// bytes as they are on the server
		DisableCompression: true,
	}
	maxRedirects := settings.MaxRedirects
	return &Store{client: &nethttp.Client{
		Transport: transport,
		CheckRedirect: func(req *nethttp.Request, via []*nethttp.Request) error {
			if len(via) > maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}}
}

func (s *Store) OpenReader(ctx context.Context, loc locator.Locator) (io.ReadCloser, Metadata, error) {
	if loc.Scheme != locator.SchemeHTTP && loc.Scheme != locator.SchemeHTTPS {
		return nil, Metadata{}, fmt.Errorf("locator %q is not http", loc.Raw)
	}
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, RequestURL(loc), nil)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) && errors.Is(ue.Err, context.Canceled) {
			return nil, Metadata{}, context.Canceled
		}
		return nil, Metadata{}, err
	}
	if resp.StatusCode >= 400 {
		_ = resp.Body.Close()
		return nil, Metadata{}, &StatusError{Code: resp.StatusCode}
	}
	meta := Metadata{}
	if resp.ContentLength > 0 {
		meta.Size = resp.ContentLength
	}
	return resp.Body, meta, nil
}

// RequestURL turns a locator back into the URL the server expects.
func RequestURL(loc locator.Locator) string {
	u := url.URL{
		Scheme:   string(loc.Scheme),
		Host:     loc.Server,
		Path:     "/" + loc.Path,
		RawQuery: loc.Query,
	}
	if loc.Port != 0 {
		u.Host = loc.Address(0)
	}
	switch {
	case loc.User != "" && loc.Password != "":
		u.User = url.UserPassword(loc.User, loc.Password)
	case loc.User != "":
		u.User = url.User(loc.User)
	}
	return u.String()
}
