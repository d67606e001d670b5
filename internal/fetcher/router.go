// Package fetcher resolves protocol clients by URL scheme.
package fetcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// Router dispatches each address to the client registered for its scheme.
// It satisfies crawler.Client itself.
type Router struct {
	clients map[string]crawler.Client
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{clients: make(map[string]crawler.Client)}
}

// Register binds client to one or more schemes, replacing any previous binding.
// The empty scheme matches bare paths such as /srv/docs.
func (r *Router) Register(client crawler.Client, schemes ...string) {
	for _, scheme := range schemes {
		r.clients[strings.ToLower(scheme)] = client
	}
}

// ClientFor returns the client for address.
func (r *Router) ClientFor(address string) (crawler.Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: url is empty", crawler.ErrConfiguration)
	}
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %q: %v", crawler.ErrConfiguration, address, err)
	}
	client, ok := r.clients[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: no client for scheme %q", crawler.ErrConfiguration, u.Scheme)
	}
	return client, nil
}

// Fetch delegates to the client for address.
func (r *Router) Fetch(ctx context.Context, address string, includeContent bool) (*crawler.ResponseData, error) {
	client, err := r.ClientFor(address)
	if err != nil {
		return nil, err
	}
	return client.Fetch(ctx, address, includeContent)
}

// FetchHead delegates to the client for address.
func (r *Router) FetchHead(ctx context.Context, address string) (*crawler.ResponseData, error) {
	client, err := r.ClientFor(address)
	if err != nil {
		return nil, err
	}
	return client.FetchHead(ctx, address)
}
