package cluster

import (
	"context"
	"hazeltopo/embedded"
	"hazeltopo/grid"
	"strings"
)

type embeddedMemberLauncher struct {
	g *embedded.Grid
}

const embeddedAddressPrefix = "embedded/"

func NewEmbeddedController(g *embedded.Grid, t Timeouts) *Controller {
	return newController(&embeddedMemberLauncher{g}, g, t)
}

func (l *embeddedMemberLauncher) launch(_ context.Context, mc MemberConfig) error {

	_, err := l.g.StartMemberWith(mc.Name, mc.Features)
	return err

}

func (l *embeddedMemberLauncher) shutdown(_ context.Context, h MemberHandle) error {
	return l.g.ShutdownMember(h.ID)
}

func (l *embeddedMemberLauncher) terminate(_ context.Context, h MemberHandle) error {
	return l.g.TerminateMember(h.ID)
}

func (l *embeddedMemberLauncher) nameOf(_ context.Context, m grid.Member) (string, error) {
	return strings.TrimPrefix(m.Address, embeddedAddressPrefix), nil
}
