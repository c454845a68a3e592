package remote

import (
	"context"

	"github.com/cuemby/remotebackend/pkg/records"
)

// Invocation is one deferred fetch. The hostname must be bound before Run.
type Invocation struct {
	fetcher  Fetcher
	hostname string
}

// NewInvocation creates an unbound invocation against fetcher
func NewInvocation(fetcher Fetcher) *Invocation {
	return &Invocation{fetcher: fetcher}
}

// SetHostname binds the hostname to fetch
func (i *Invocation) SetHostname(hostname string) *Invocation {
	i.hostname = hostname
	return i
}

// Hostname returns the bound hostname
func (i *Invocation) Hostname() string {
	return i.hostname
}

// Run performs the fetch
func (i *Invocation) Run(ctx context.Context) (*records.RecordSet, error) {
	if i.hostname == "" {
		return nil, ErrIllegalState
	}
	return i.fetcher.Fetch(ctx, i.hostname)
}
