package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures a breaker
type Settings struct {
	// MaxRequests is the number of probes let through while half-open,
	// and the number of probe successes that close the breaker again
	MaxRequests uint32
	// Interval clears the counts periodically while closed
	Interval time.Duration
	// Cooldown is how long the breaker stays open before probing
	Cooldown time.Duration
	// ReadyToTrip decides, after a failure while closed, whether to open
	ReadyToTrip func(counts Counts) bool
	// IsFailure classifies an error; nil treats every error as a failure
	IsFailure func(err error) bool
	// OnStateChange observes transitions
	OnStateChange func(name string, from State, to State)
}

// Counts holds the statistics of the current window
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// Breaker guards one upstream (a fetch host)
type Breaker struct {
	name     string
	settings Settings

	mu         sync.Mutex
	state      State
	counts     Counts
	generation uint64
	deadline   time.Time
}

// New creates a breaker with defaults applied to zero settings
func New(name string, settings Settings) *Breaker {
	if settings.MaxRequests == 0 {
		settings.MaxRequests = 1
	}
	if settings.Interval == 0 {
		settings.Interval = time.Minute
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}

	return &Breaker{
		name:     name,
		settings: settings,
		deadline: time.Now().Add(settings.Interval),
	}
}

func (b *Breaker) Name() string { return b.name }

// State returns the state as of now
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(time.Now())
	return b.state
}

// Counts returns a copy of the current window's counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Execute runs fn if the breaker admits it and records the outcome
func (b *Breaker) Execute(fn func() error) error {
	done, err := b.Allow()
	if err != nil {
		return err
	}

	defer func() {
		if e := recover(); e != nil {
			done(errPanic)
			panic(e)
		}
	}()

	err = fn()
	done(err)
	return err
}

var errPanic = errors.New("panic")

// Allow admits one request. The caller must report its outcome through done.
func (b *Breaker) Allow() (done func(err error), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(time.Now())

	switch {
	case b.state == StateOpen:
		return nil, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.settings.MaxRequests:
		return nil, ErrTooManyRequests
	}

	b.counts.Requests++
	generation := b.generation
	return func(err error) { b.record(generation, err) }, nil
}

func (b *Breaker) record(generation uint64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.advance(now)
	if generation != b.generation {
		// outcome belongs to a window that already ended
		return
	}

	failed := err != nil
	if failed && b.settings.IsFailure != nil {
		failed = b.settings.IsFailure(err)
	}

	if !failed {
		b.counts.TotalSuccesses++
		b.counts.ConsecutiveSuccesses++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.MaxRequests {
			b.transition(StateClosed, now)
		}
		return
	}

	b.counts.TotalFailures++
	b.counts.ConsecutiveFailures++
	b.counts.ConsecutiveSuccesses = 0
	switch b.state {
	case StateClosed:
		if b.settings.ReadyToTrip(b.counts) {
			b.transition(StateOpen, now)
		}
	case StateHalfOpen:
		b.transition(StateOpen, now)
	}
}

// advance applies time-driven transitions. Caller holds mu.
func (b *Breaker) advance(now time.Time) {
	switch b.state {
	case StateClosed:
		if now.After(b.deadline) {
			b.newWindow(now.Add(b.settings.Interval))
		}
	case StateOpen:
		if now.After(b.deadline) {
			b.transition(StateHalfOpen, now)
		}
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to

	switch to {
	case StateClosed:
		b.newWindow(now.Add(b.settings.Interval))
	case StateOpen:
		b.newWindow(now.Add(b.settings.Cooldown))
	case StateHalfOpen:
		b.newWindow(time.Time{})
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) newWindow(deadline time.Time) {
	b.generation++
	b.counts = Counts{}
	b.deadline = deadline
}

// Set holds one breaker per key, created on first use with shared settings
type Set struct {
	prefix   string
	settings Settings

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewSet creates a breaker set. Breaker names are prefix + ":" + key.
func NewSet(prefix string, settings Settings) *Set {
	return &Set{
		prefix:   prefix,
		settings: settings,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for key
func (s *Set) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[key]
	if !ok {
		b = New(s.prefix+":"+key, s.settings)
		s.breakers[key] = b
	}
	return b
}

// States reports the state of every breaker in the set
func (s *Set) States() map[string]State {
	s.mu.Lock()
	keys := make(map[string]*Breaker, len(s.breakers))
	for k, b := range s.breakers {
		keys[k] = b
	}
	s.mu.Unlock()

	states := make(map[string]State, len(keys))
	for k, b := range keys {
		states[k] = b.State()
	}
	return states
}
