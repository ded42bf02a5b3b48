package inject

import (
	"context"

	"github.com/envsensing/envnode/network"
)

// Link is an injected network link.
type Link struct {
	network.Link
	AssociateFunc func(ctx context.Context) error
	StatusFunc    func(ctx context.Context) (network.LinkStatus, error)
}

// Associate calls the injected Associate or the real version.
func (l *Link) Associate(ctx context.Context) error {
	if l.AssociateFunc == nil {
		return l.Link.Associate(ctx)
	}
	return l.AssociateFunc(ctx)
}

// Status calls the injected Status or the real version.
func (l *Link) Status(ctx context.Context) (network.LinkStatus, error) {
	if l.StatusFunc == nil {
		return l.Link.Status(ctx)
	}
	return l.StatusFunc(ctx)
}
