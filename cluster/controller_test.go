package cluster

import (
	"context"
	"errors"
	"hazeltopo/embedded"
	"hazeltopo/grid"
	"hazeltopo/partitioning"
	"sync"
	"testing"
	"time"
)

type (
	testLauncherBehavior struct {
		launchErr         error
		joinOnLaunch      bool
		leaveOnRequest    bool
		lingerOnTerminate bool
	}
	testLauncherObservations struct {
		numLaunches, numShutdowns, numTerminations int
	}
	testLauncher struct {
		view         *testView
		behavior     *testLauncherBehavior
		observations *testLauncherObservations
		next         int
	}
	testView struct {
		mu         sync.Mutex
		members    []grid.Member
		lastChange time.Time
		pending    bool
	}
	testSleeper struct {
		numSleeps int
	}
)

const (
	checkMark = "\u2713"
	ballotX   = "\u2717"
)

var testTimeouts = Timeouts{
	Startup:          50 * time.Millisecond,
	Shutdown:         50 * time.Millisecond,
	Stabilization:    50 * time.Millisecond,
	QuiescenceWindow: 0,
	PollInterval:     time.Millisecond,
}

func (v *testView) Members() []grid.Member {

	v.mu.Lock()
	defer v.mu.Unlock()

	return append([]grid.Member(nil), v.members...)

}

func (v *testView) LastChange() time.Time {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.lastChange

}

func (v *testView) Pending() bool {

	v.mu.Lock()
	defer v.mu.Unlock()

	return v.pending

}

func (v *testView) add(m grid.Member) {

	v.mu.Lock()
	defer v.mu.Unlock()

	v.members = append(v.members, m)
	v.lastChange = time.Now()

}

func (v *testView) remove(id grid.MemberID) {

	v.mu.Lock()
	defer v.mu.Unlock()

	for i, m := range v.members {
		if m.ID == id {
			v.members = append(v.members[:i], v.members[i+1:]...)
			break
		}
	}
	v.lastChange = time.Now()

}

func (l *testLauncher) launch(_ context.Context, mc MemberConfig) error {

	l.observations.numLaunches++
	if l.behavior.launchErr != nil {
		return l.behavior.launchErr
	}
	if l.behavior.joinOnLaunch {
		l.next++
		l.view.add(grid.Member{ID: grid.MemberID(mc.Name + "-id"), Address: mc.Name})
	}

	return nil

}

func (l *testLauncher) shutdown(_ context.Context, h MemberHandle) error {

	l.observations.numShutdowns++
	if l.behavior.leaveOnRequest {
		l.view.remove(h.ID)
	}

	return nil

}

func (l *testLauncher) terminate(_ context.Context, h MemberHandle) error {

	l.observations.numTerminations++
	if !l.behavior.lingerOnTerminate {
		l.view.remove(h.ID)
	}

	return nil

}

func (l *testLauncher) nameOf(_ context.Context, m grid.Member) (string, error) {
	return m.Address, nil
}

func (s *testSleeper) sleep(_ time.Duration) {
	s.numSleeps++
}

func newTestController(b *testLauncherBehavior) (*Controller, *testLauncher, *testView) {

	v := &testView{}
	l := &testLauncher{view: v, behavior: b, observations: &testLauncherObservations{}}
	c := newController(l, v, testTimeouts)

	return c, l, v

}

func TestController_StartMember(t *testing.T) {

	t.Log("given a controller whose launcher brings up members")
	{
		t.Log("\twhen started member joins the view")
		{
			c, _, v := newTestController(&testLauncherBehavior{joinOnLaunch: true})
			v.add(grid.Member{ID: "initial-id", Address: "initial"})

			h, err := c.StartMember(context.TODO(), MemberConfig{Name: "member3"})

			msg := "\t\tno error must be returned"
			if err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\thandle must refer to new member rather than pre-existing one"
			if h.ID == "member3-id" && h.Name == "member3" {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, h)
			}

			msg = "\t\tmember must be tracked as ad-hoc member"
			if len(c.adHoc) == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, c.adHoc)
			}
		}

		t.Log("\twhen started member never joins")
		{
			c, _, _ := newTestController(&testLauncherBehavior{joinOnLaunch: false})
			s := &testSleeper{}
			c.s = s

			_, err := c.StartMember(context.TODO(), MemberConfig{Name: "member3"})

			msg := "\t\tstartup error must be returned"
			if errors.Is(err, ErrStartup) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\tcontroller must have polled view in between"
			if s.numSleeps > 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, s.numSleeps)
			}
		}

		t.Log("\twhen launcher fails")
		{
			c, _, _ := newTestController(&testLauncherBehavior{launchErr: errors.New("no capacity")})

			_, err := c.StartMember(context.TODO(), MemberConfig{Name: "member3"})

			msg := "\t\tstartup error must be returned"
			if errors.Is(err, ErrStartup) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}
		}
	}

}

func TestController_ShutdownGracefully(t *testing.T) {

	t.Log("given a controller and a running ad-hoc member")
	{
		t.Log("\twhen member leaves upon request")
		{
			c, l, _ := newTestController(&testLauncherBehavior{joinOnLaunch: true, leaveOnRequest: true})
			h, _ := c.StartMember(context.TODO(), MemberConfig{Name: "member3"})

			err := c.ShutdownGracefully(context.TODO(), h)

			msg := "\t\tno error must be returned"
			if err == nil && l.observations.numShutdowns == 1 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\tmember must no longer be tracked as ad-hoc member"
			if len(c.adHoc) == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, c.adHoc)
			}
		}

		t.Log("\twhen member departure is never confirmed")
		{
			c, l, _ := newTestController(&testLauncherBehavior{joinOnLaunch: true, leaveOnRequest: false})
			h, _ := c.StartMember(context.TODO(), MemberConfig{Name: "member3"})

			err := c.ShutdownGracefully(context.TODO(), h)

			msg := "\t\tshutdown timeout error must be returned"
			if errors.Is(err, ErrShutdownTimeout) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\tmember must not have been force-killed"
			if l.observations.numTerminations == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, l.observations.numTerminations)
			}
		}
	}

}

func TestController_WaitForStabilization(t *testing.T) {

	t.Log("given a controller watching a membership view")
	{
		t.Log("\twhen view has no pending activity")
		{
			c, _, _ := newTestController(&testLauncherBehavior{})

			msg := "\t\tcluster must be reported as stable"
			if c.WaitForStabilization(context.TODO(), 20*time.Millisecond) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen view keeps reporting pending activity")
		{
			c, _, v := newTestController(&testLauncherBehavior{})
			v.pending = true

			msg := "\t\tstabilization must time out"
			if !c.WaitForStabilization(context.TODO(), 20*time.Millisecond) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen a terminated member lingers in the view")
		{
			c, _, _ := newTestController(&testLauncherBehavior{joinOnLaunch: true, lingerOnTerminate: true})
			h, _ := c.StartMember(context.TODO(), MemberConfig{Name: "member3"})
			_ = c.TerminateAbruptly(context.TODO(), h)

			msg := "\t\tstabilization must time out while the member is still listed"
			if !c.WaitForStabilization(context.TODO(), 20*time.Millisecond) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}

			msg = "\t\tmember given up on must not block later stabilization"
			if c.WaitForStabilization(context.TODO(), 20*time.Millisecond) && len(c.departing) == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, c.departing)
			}
		}

		t.Log("\twhen a terminated member leaves the view some time after the kill")
		{
			c, _, v := newTestController(&testLauncherBehavior{joinOnLaunch: true, lingerOnTerminate: true})
			h, _ := c.StartMember(context.TODO(), MemberConfig{Name: "member3"})
			_ = c.TerminateAbruptly(context.TODO(), h)

			start := time.Now()
			go func() {
				time.Sleep(20 * time.Millisecond)
				v.remove(h.ID)
			}()

			stable := c.WaitForStabilization(context.TODO(), time.Second)

			msg := "\t\tstabilization must wait for the view to drop the member"
			if stable && time.Since(start) >= 20*time.Millisecond && !grid.ContainsMember(v.Members(), h.ID) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, stable, time.Since(start))
			}
		}

		t.Log("\twhen the controller changed the cluster within quiescence window although the view did not notice")
		{
			c, _, v := newTestController(&testLauncherBehavior{joinOnLaunch: true})
			_, _ = c.StartMember(context.TODO(), MemberConfig{Name: "member3"})
			v.mu.Lock()
			v.lastChange = time.Now().Add(-time.Hour)
			v.mu.Unlock()
			c.t.QuiescenceWindow = time.Hour

			msg := "\t\tstabilization must time out"
			if !c.WaitForStabilization(context.TODO(), 20*time.Millisecond) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}

		t.Log("\twhen view changed within quiescence window")
		{
			c, _, v := newTestController(&testLauncherBehavior{})
			c.t.QuiescenceWindow = time.Hour
			v.add(grid.Member{ID: "a", Address: "a"})

			msg := "\t\tstabilization must time out"
			if !c.WaitForStabilization(context.TODO(), 20*time.Millisecond) {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX)
			}
		}
	}

}

func TestController_ReleaseAdHoc(t *testing.T) {

	t.Log("given a controller having started two ad-hoc members")
	{
		t.Log("\twhen one was terminated before release")
		{
			c, l, v := newTestController(&testLauncherBehavior{joinOnLaunch: true, leaveOnRequest: true})
			h1, _ := c.StartMember(context.TODO(), MemberConfig{Name: "member3"})
			_, _ = c.StartMember(context.TODO(), MemberConfig{Name: "member4"})
			_ = c.TerminateAbruptly(context.TODO(), h1)

			err := c.ReleaseAdHoc(context.TODO())

			msg := "\t\tno error must be returned"
			if err == nil {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, err)
			}

			msg = "\t\tonly remaining member must have been shut down"
			if l.observations.numShutdowns == 1 && len(v.Members()) == 0 && len(c.adHoc) == 0 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, l.observations.numShutdowns, v.Members())
			}
		}
	}

}

func TestEmbeddedController(t *testing.T) {

	t.Log("given a controller driving an embedded grid with two members")
	{
		g, err := embedded.New(embedded.Config{
			PartitionCount:   partitioning.DefaultPartitionCount,
			BackupCount:      1,
			FailureDetection: 5 * time.Millisecond,
			Strategy:         partitioning.KeyDefault,
		})
		if err != nil {
			t.Fatal(err)
		}
		defer g.Shutdown(context.TODO())
		_, _ = g.StartMember("member1")
		_, _ = g.StartMember("member2")

		c := NewEmbeddedController(g, Timeouts{Startup: time.Second, Shutdown: time.Second, Stabilization: time.Second, PollInterval: time.Millisecond})

		t.Log("\twhen third member is started")
		{
			h, err := c.StartMember(context.TODO(), MemberConfig{Name: "member3", Features: map[string]bool{FeatureJet: true}})

			msg := "\t\thandle must carry member name"
			if err == nil && h.Name == "member3" && len(c.Members(context.TODO())) == 3 {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, h, err)
			}

			msg = "\t\tmember must run with requested features"
			if features, err := g.MemberFeatures(h.ID); err == nil && features[FeatureJet] {
				t.Log(msg, checkMark)
			} else {
				t.Fatal(msg, ballotX, features, err)
			}

			t.Log("\twhen third member is terminated abruptly")
			{
				err := c.TerminateAbruptly(context.TODO(), h)

				msg := "\t\tno error must be returned"
				if err == nil {
					t.Log(msg, checkMark)
				} else {
					t.Fatal(msg, ballotX, err)
				}

				msg = "\t\tcluster must stabilize once failure has been detected"
				if c.WaitForStabilization(context.TODO(), time.Second) && len(c.Members(context.TODO())) == 2 {
					t.Log(msg, checkMark)
				} else {
					t.Fatal(msg, ballotX, c.Members(context.TODO()))
				}
			}
		}
	}

}
