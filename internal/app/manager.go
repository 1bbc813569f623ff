package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/channel"
	"github.com/GriffinCanCode/gadgetry/internal/gadget"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/gadgetry/internal/shared/id"
	"go.uber.org/zap"
)

// ErrNoRoot is returned when no root page URL is configured
var ErrNoRoot = errors.New("no root page configured")

// Kind tells why a page exists
type Kind string

const (
	KindRoot   Kind = "root"
	KindRender Kind = "render"
	KindFrame  Kind = "frame"
)

// Info describes a live page
type Info struct {
	ID        id.PageID `json:"id"`
	Kind      Kind      `json:"kind"`
	URL       string    `json:"url"`
	Session   string    `json:"session,omitempty"`
	Crashed   bool      `json:"crashed"`
	Errors    int       `json:"errors"`
	CreatedAt time.Time `json:"created_at"`
}

type entry struct {
	page      *gadget.Page
	kind      Kind
	url       string
	session   string
	createdAt time.Time
}

func (e *entry) info() Info {
	return Info{
		ID:        e.page.ID(),
		Kind:      e.kind,
		URL:       e.url,
		Session:   e.session,
		Crashed:   e.page.Crashed(),
		Errors:    len(e.page.Errors()),
		CreatedAt: e.createdAt,
	}
}

// Manager owns the pages of a process: the long-lived root page, one-shot
// render pages and isolated gadgets hosted for remote parents
type Manager struct {
	pages   sync.Map // id.PageID -> *entry
	opts    gadget.Options
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.RWMutex
	root    *gadget.Page
	rootURL string
}

// NewManager creates a manager whose pages are built from opts
func NewManager(opts gadget.Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		opts:    opts,
		logger:  logger.Named("pages"),
		metrics: opts.Metrics,
	}
}

func (m *Manager) spawn(kind Kind, url, session string) *gadget.Page {
	page := gadget.NewPage(m.opts)
	m.pages.Store(page.ID(), &entry{
		page:      page,
		kind:      kind,
		url:       url,
		session:   session,
		createdAt: time.Now(),
	})
	return page
}

func (m *Manager) release(page *gadget.Page) {
	m.pages.Delete(page.ID())
	page.Close()
}

// Render opens url in a fresh page, waits for the root gadget and returns
// the serialized document. A failed open still renders: the document is
// then the crash report and crashed is true.
func (m *Manager) Render(ctx context.Context, url string) (html string, crashed bool, err error) {
	page := m.spawn(KindRender, url, "")
	defer m.release(page)

	if openErr := page.Open(ctx, url); openErr != nil {
		m.logger.Info("render crashed", zap.String("url", url), zap.Error(openErr))
	}

	html, err = page.Render()
	return html, page.Crashed(), err
}

// OpenRoot replaces the root page with a fresh page for url. The new page
// stays root even when it crashes, so its crash report can be served.
func (m *Manager) OpenRoot(ctx context.Context, url string) error {
	if url == "" {
		return ErrNoRoot
	}

	page := m.spawn(KindRoot, url, "")
	err := page.Open(ctx, url)

	m.mu.Lock()
	old := m.root
	m.root = page
	m.rootURL = url
	m.mu.Unlock()

	if old != nil {
		old.Unload()
		m.release(old)
	}

	if err != nil {
		m.logger.Warn("root page crashed", zap.String("url", url), zap.Error(err))
		return err
	}
	m.logger.Info("root page opened", zap.String("url", url), zap.String("page", string(page.ID())))
	return nil
}

// Reload reopens the root page URL with a fresh class registry
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.RLock()
	url := m.rootURL
	m.mu.RUnlock()
	return m.OpenRoot(ctx, url)
}

// Root returns the current root page, or nil
func (m *Manager) Root() *gadget.Page {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// HostFrame runs url as an isolated gadget for the parent on the other end
// of transport. The page is tracked until the channel closes.
func (m *Manager) HostFrame(url, session string, transport channel.Transport) *gadget.Page {
	page := m.spawn(KindFrame, url, session)
	m.metrics.AddFrames(1)

	go func() {
		<-page.Done()
		m.pages.Delete(page.ID())
		m.metrics.AddFrames(-1)
	}()

	go func() {
		if err := page.Embed(page.Context(), url, transport); err != nil {
			m.logger.Info("hosted gadget failed",
				zap.String("url", url),
				zap.String("session", session),
				zap.Error(err))
		}
	}()
	return page
}

// Get returns the live page with the given ID
func (m *Manager) Get(pageID id.PageID) (*gadget.Page, bool) {
	val, ok := m.pages.Load(pageID)
	if !ok {
		return nil, false
	}
	return val.(*entry).page, true
}

// List returns all live pages, oldest first, optionally filtered by kind
func (m *Manager) List(kind *Kind) []Info {
	var infos []Info
	m.pages.Range(func(_, value any) bool {
		e := value.(*entry)
		if kind == nil || e.kind == *kind {
			infos = append(infos, e.info())
		}
		return true
	})
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Stats counts live pages per kind
func (m *Manager) Stats() map[Kind]int {
	stats := map[Kind]int{KindRoot: 0, KindRender: 0, KindFrame: 0}
	m.pages.Range(func(_, value any) bool {
		stats[value.(*entry).kind]++
		return true
	})
	return stats
}

// Close unloads and closes every page
func (m *Manager) Close() {
	m.mu.Lock()
	m.root = nil
	m.mu.Unlock()

	m.pages.Range(func(_, value any) bool {
		e := value.(*entry)
		e.page.Unload()
		m.release(e.page)
		return true
	})
}
