package hazelcastwrapper

import (
	"fmt"
	"github.com/hazelcast/hazelcast-go-client/cluster"
	log "github.com/sirupsen/logrus"
	"hazeltopo/grid"
	"sync"
	"time"
)

// MembershipView tracks cluster members as reported by membership events. The client cannot see migrations, so
// the view never reports pending activity; callers rely on the quiescence window instead.
type MembershipView struct {
	mu         sync.Mutex
	members    []grid.Member
	lastChange time.Time
}

func NewMembershipView() *MembershipView {
	return &MembershipView{lastChange: time.Now()}
}

func (v *MembershipView) handle(event cluster.MembershipStateChanged) {

	m := grid.Member{
		ID:      grid.MemberID(event.Member.UUID.String()),
		Address: event.Member.Address.String(),
	}

	switch event.State {
	case cluster.MembershipStateAdded:
		v.add(m)
	case cluster.MembershipStateRemoved:
		v.remove(m.ID)
	}

}

func (v *MembershipView) add(m grid.Member) {

	v.mu.Lock()
	defer v.mu.Unlock()

	if grid.ContainsMember(v.members, m.ID) {
		return
	}

	v.members = append(v.members, m)
	v.lastChange = time.Now()
	lp.LogHzEvent(fmt.Sprintf("member '%s' at '%s' joined", m.ID, m.Address), log.InfoLevel)

}

func (v *MembershipView) remove(id grid.MemberID) {

	v.mu.Lock()
	defer v.mu.Unlock()

	for i, m := range v.members {
		if m.ID == id {
			v.members = append(v.members[:i], v.members[i+1:]...)
			v.lastChange = time.Now()
			lp.LogHzEvent(fmt.Sprintf("member '%s' at '%s' left", m.ID, m.Address), log.InfoLevel)
			return
		}
	}

}

func (v *MembershipView) Members() []grid.Member {

	v.mu.Lock()
	defer v.mu.Unlock()

	return append([]grid.Member(nil), v.members...)

}

func (v *MembershipView) LastChange() time.Time {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.lastChange

}

func (v *MembershipView) Pending() bool {
	return false
}
