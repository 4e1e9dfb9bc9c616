// Package analysis drives a single identification attempt through
// Idle, Loading and a terminal Success or Error state.
package analysis

import (
	"context"
	"errors"
	"sync"

	"github.com/apex/log"

	"github.com/menta2k/insect-identifier/pkg/client"
	"github.com/menta2k/insect-identifier/pkg/identify"
	"github.com/menta2k/insect-identifier/pkg/types"
)

// Observer receives every published state. Observers are called one at a
// time in publish order and must not call Analyze, Reset or Refresh.
type Observer func(State)

// SavedFunc is called once with the result of a successful attempt
type SavedFunc func(result *types.AnalysisResult)

// Option configures a Controller
type Option func(*Controller)

// WithOnSaved sets the callback that commits a successful result
func WithOnSaved(fn SavedFunc) Option {
	return func(c *Controller) {
		c.onSaved = fn
	}
}

// WithObserver subscribes fn before the controller is returned
func WithObserver(fn Observer) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, subscription{id: c.nextID, fn: fn})
		c.nextID++
	}
}

type subscription struct {
	id int
	fn Observer
}

// Controller owns the state of one identification screen. It is safe for
// concurrent use.
type Controller struct {
	client  client.VisionClient
	onSaved SavedFunc

	mu         sync.Mutex
	state      State
	generation uint64
	saved      bool
	observers  []subscription
	nextID     int

	// held while observers run so deliveries never interleave
	notifyMu sync.Mutex
}

// NewController creates a controller in the Idle state
func NewController(vc client.VisionClient, opts ...Option) *Controller {
	c := &Controller{
		client: vc,
		state:  Idle(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Analyze publishes Loading, identifies image and publishes the outcome.
// If Reset or another Analyze supersedes this attempt before the client
// returns, the outcome is dropped; the returned state is then not the
// controller's current one.
func (c *Controller) Analyze(ctx context.Context, image []byte) State {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.saved = false
	c.publishLocked(Loading())

	result, err := c.client.Identify(ctx, image)
	if err == nil && result == nil {
		err = identify.InvalidResponse(errors.New("client returned no result"))
	}

	next := Success(result)
	if err != nil {
		next = Failed(err)
	}

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		log.WithField("state", next.String()).Debug("analysis: dropping superseded result")
		return next
	}
	c.publishLocked(next)
	return next
}

// Reset returns to Idle and supersedes any attempt in flight
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation++
	c.saved = false
	c.publishLocked(Idle())
}

// Refresh publishes the current state again
func (c *Controller) Refresh() {
	c.mu.Lock()
	c.publishLocked(c.state)
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ShouldShowLoading reports whether a spinner belongs on screen
func (c *Controller) ShouldShowLoading() bool {
	return c.State().ShouldShowLoading()
}

// CanDismiss reports whether the screen may be closed
func (c *Controller) CanDismiss() bool {
	return c.State().CanDismiss()
}

// Subscribe registers fn and immediately delivers the current state to it.
// The returned function removes the subscription.
func (c *Controller) Subscribe(fn Observer) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.observers = append(c.observers, subscription{id: id, fn: fn})
	current := c.state

	c.notifyMu.Lock()
	c.mu.Unlock()
	fn(current)
	c.notifyMu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.observers {
			if sub.id == id {
				c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

// publishLocked must be called with mu held and releases it. notifyMu is
// taken before mu is dropped so deliveries keep publish order.
func (c *Controller) publishLocked(s State) {
	c.state = s
	observers := make([]Observer, len(c.observers))
	for i, sub := range c.observers {
		observers[i] = sub.fn
	}

	fireSaved := s.Status == StatusSuccess && !c.saved
	if fireSaved {
		c.saved = true
	}

	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
	if fireSaved && c.onSaved != nil {
		c.onSaved(s.Result)
	}
}
