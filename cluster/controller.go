package cluster

import (
	"context"
	"errors"
	"fmt"
	log "github.com/sirupsen/logrus"
	"hazeltopo/client"
	"hazeltopo/grid"
	"hazeltopo/logging"
	"sync"
	"time"
)

type (
	MemberConfig struct {
		Name string
		// Features switches optional member functionality on or off, e.g. FeatureJet.
		Features map[string]bool
	}
	MemberHandle struct {
		Name string
		ID   grid.MemberID
	}
	Timeouts struct {
		Startup          time.Duration
		Shutdown         time.Duration
		Stabilization    time.Duration
		QuiescenceWindow time.Duration
		PollInterval     time.Duration
	}
	memberLauncher interface {
		launch(ctx context.Context, mc MemberConfig) error
		shutdown(ctx context.Context, h MemberHandle) error
		terminate(ctx context.Context, h MemberHandle) error
		nameOf(ctx context.Context, m grid.Member) (string, error)
	}
	sleeper interface {
		sleep(d time.Duration)
	}
	defaultSleeper struct{}
	// Controller owns the members it starts. Members started through StartMember are ad-hoc members and get
	// released by ReleaseAdHoc.
	Controller struct {
		launcher memberLauncher
		view     grid.MembershipView
		t        Timeouts
		s        sleeper
		mu       sync.Mutex
		adHoc    []MemberHandle
		// lastMutation is when the controller last changed the cluster, whether or not the view noticed.
		lastMutation time.Time
		// departing holds terminated members the view may still list.
		departing []MemberHandle
	}
)

// FeatureJet enables the member's stream processing engine, which SQL queries run on.
const FeatureJet = "jet"

var (
	ErrStartup              = errors.New("member failed to join within startup timeout")
	ErrShutdownTimeout      = errors.New("member departure not confirmed within shutdown timeout")
	ErrStabilizationTimeout = errors.New("membership view did not quiesce within stabilization timeout")
)

var lp *logging.LogProvider

func init() {
	lp = &logging.LogProvider{ClientID: client.ID()}
}

func (s *defaultSleeper) sleep(d time.Duration) {
	time.Sleep(d)
}

func newController(l memberLauncher, view grid.MembershipView, t Timeouts) *Controller {

	if t.PollInterval <= 0 {
		t.PollInterval = 100 * time.Millisecond
	}

	return &Controller{launcher: l, view: view, t: t, s: &defaultSleeper{}}

}

func (c *Controller) Timeouts() Timeouts {
	return c.t
}

// StartMember blocks until a member the view did not know before shows up in it. A member that fails to join in
// time yields ErrStartup.
func (c *Controller) StartMember(ctx context.Context, mc MemberConfig) (MemberHandle, error) {

	known := grid.MemberIDs(c.view.Members())

	lp.LogClusterEvent(fmt.Sprintf("starting member '%s'", mc.Name), log.InfoLevel)
	start := time.Now()

	if err := c.launcher.launch(ctx, mc); err != nil {
		lp.LogClusterEvent(fmt.Sprintf("unable to launch member '%s': %v", mc.Name, err), log.ErrorLevel)
		return MemberHandle{}, fmt.Errorf("%w: %s: %v", ErrStartup, mc.Name, err)
	}
	c.stampMutation()

	deadline := start.Add(c.t.Startup)
	for {
		for _, m := range c.view.Members() {
			if containsID(known, m.ID) {
				continue
			}
			name, err := c.launcher.nameOf(ctx, m)
			if err != nil || name == "" {
				name = mc.Name
			}
			h := MemberHandle{Name: name, ID: m.ID}
			c.mu.Lock()
			c.adHoc = append(c.adHoc, h)
			c.lastMutation = time.Now()
			c.mu.Unlock()
			lp.LogTimingEvent("start member", name, int(time.Since(start).Milliseconds()), log.InfoLevel)
			return h, nil
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			lp.LogClusterEvent(fmt.Sprintf("member '%s' did not join within %v", mc.Name, c.t.Startup), log.ErrorLevel)
			return MemberHandle{}, fmt.Errorf("%w: %s after %v", ErrStartup, mc.Name, c.t.Startup)
		}
		c.s.sleep(c.t.PollInterval)
	}

}

// ShutdownGracefully requests an orderly departure and waits for the view to confirm it. Running into the timeout
// yields ErrShutdownTimeout; the member is never force-killed.
func (c *Controller) ShutdownGracefully(ctx context.Context, h MemberHandle) error {

	lp.LogClusterEvent(fmt.Sprintf("shutting down member '%s' gracefully", h.Name), log.InfoLevel)
	start := time.Now()

	if err := c.launcher.shutdown(ctx, h); err != nil {
		lp.LogClusterEvent(fmt.Sprintf("unable to request shutdown of member '%s': %v", h.Name, err), log.ErrorLevel)
		return err
	}
	c.forget(h)
	c.stampMutation()
	defer c.stampMutation()

	deadline := start.Add(c.t.Shutdown)
	for grid.ContainsMember(c.view.Members(), h.ID) {
		if time.Now().After(deadline) || ctx.Err() != nil {
			lp.LogClusterEvent(fmt.Sprintf("departure of member '%s' not confirmed within %v", h.Name, c.t.Shutdown), log.WarnLevel)
			return fmt.Errorf("%w: %s after %v", ErrShutdownTimeout, h.Name, c.t.Shutdown)
		}
		c.s.sleep(c.t.PollInterval)
	}

	lp.LogTimingEvent("graceful shutdown", h.Name, int(time.Since(start).Milliseconds()), log.InfoLevel)
	return nil

}

// TerminateAbruptly kills the member without hand-off and returns as soon as the kill went through. The member is
// considered departing until the view drops it, see WaitForStabilization.
func (c *Controller) TerminateAbruptly(ctx context.Context, h MemberHandle) error {

	lp.LogClusterEvent(fmt.Sprintf("terminating member '%s'", h.Name), log.InfoLevel)

	if err := c.launcher.terminate(ctx, h); err != nil {
		lp.LogClusterEvent(fmt.Sprintf("unable to terminate member '%s': %v", h.Name, err), log.ErrorLevel)
		return err
	}
	c.forget(h)

	c.mu.Lock()
	c.departing = append(c.departing, h)
	c.lastMutation = time.Now()
	c.mu.Unlock()

	return nil

}

// WaitForStabilization returns true once every terminated member has left the view, the view reports no pending
// activity, and neither the view nor the controller changed the cluster for the quiescence window. It returns
// false when the timeout elapses first; terminated members still listed by then are given up on.
func (c *Controller) WaitForStabilization(ctx context.Context, timeout time.Duration) bool {

	start := time.Now()
	deadline := start.Add(timeout)

	for {
		departing := c.stillDeparting()
		if len(departing) == 0 && !c.view.Pending() && time.Since(c.settledSince()) >= c.t.QuiescenceWindow {
			lp.LogTimingEvent("stabilization", "cluster", int(time.Since(start).Milliseconds()), log.DebugLevel)
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			if len(departing) > 0 {
				lp.LogClusterEvent(fmt.Sprintf("terminated members %v still listed after %v", departing, timeout), log.WarnLevel)
				c.mu.Lock()
				c.departing = nil
				c.mu.Unlock()
			}
			lp.LogClusterEvent(fmt.Sprintf("cluster did not stabilize within %v", timeout), log.WarnLevel)
			return false
		}
		c.s.sleep(c.t.PollInterval)
	}

}

func (c *Controller) stampMutation() {

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastMutation = time.Now()

}

// settledSince is the later of the view's last change and the controller's last mutation.
func (c *Controller) settledSince() time.Time {

	c.mu.Lock()
	last := c.lastMutation
	c.mu.Unlock()

	if change := c.view.LastChange(); change.After(last) {
		return change
	}

	return last

}

// stillDeparting drops terminated members the view no longer lists and returns the rest.
func (c *Controller) stillDeparting() []string {

	members := c.view.Members()

	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := c.departing[:0]
	var names []string
	for _, h := range c.departing {
		if grid.ContainsMember(members, h.ID) {
			remaining = append(remaining, h)
			names = append(names, h.Name)
		}
	}
	c.departing = remaining

	return names

}

func (c *Controller) Members(ctx context.Context) []MemberHandle {

	members := c.view.Members()
	handles := make([]MemberHandle, 0, len(members))
	for _, m := range members {
		name, err := c.launcher.nameOf(ctx, m)
		if err != nil {
			lp.LogClusterEvent(fmt.Sprintf("unable to resolve name of member '%s': %v", m.ID, err), log.DebugLevel)
			name = m.Address
		}
		handles = append(handles, MemberHandle{Name: name, ID: m.ID})
	}

	return handles

}

// ReleaseAdHoc gracefully shuts down every member started through this controller that is still part of the
// cluster, then waits for the cluster to settle.
func (c *Controller) ReleaseAdHoc(ctx context.Context) error {

	c.mu.Lock()
	pending := append([]MemberHandle(nil), c.adHoc...)
	c.mu.Unlock()

	var errs []error
	for _, h := range pending {
		if !grid.ContainsMember(c.view.Members(), h.ID) {
			c.forget(h)
			continue
		}
		if err := c.ShutdownGracefully(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}

	if len(pending) > 0 && !c.WaitForStabilization(ctx, c.t.Stabilization) {
		errs = append(errs, ErrStabilizationTimeout)
	}

	return errors.Join(errs...)

}

func (c *Controller) forget(h MemberHandle) {

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, candidate := range c.adHoc {
		if candidate.ID == h.ID {
			c.adHoc = append(c.adHoc[:i], c.adHoc[i+1:]...)
			return
		}
	}

}

func containsID(ids []grid.MemberID, id grid.MemberID) bool {

	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}

	return false

}

// Close releases all ad-hoc members; the controller must not be used afterwards.
func (c *Controller) Close(ctx context.Context) error {
	return c.ReleaseAdHoc(ctx)
}
