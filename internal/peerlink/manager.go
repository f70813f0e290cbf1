package peerlink

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/piula/bedrock/internal/envelope"
)

// Manager owns every peer Link, keyed by peer id in an xsync.MapOf, and
// exposes broadcast/unicast send helpers to the cluster Node.
type Manager struct {
	links *xsync.MapOf[uint64, *Link]

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewManager returns an empty Manager; call Add for every configured peer
// before calling Start.
func NewManager() *Manager {
	return &Manager{links: xsync.NewMapOf[uint64, *Link]()}
}

// Add registers a Link under its PeerID, replacing and closing any
// existing link for that id.
func (m *Manager) Add(link *Link) {
	if old, loaded := m.links.LoadAndStore(link.PeerID, link); loaded {
		_ = old.Close()
	}
}

// Get returns the Link for peerID, if one is registered.
func (m *Manager) Get(peerID uint64) (*Link, bool) {
	return m.links.Load(peerID)
}

// Each calls fn for every registered link.
func (m *Manager) Each(fn func(*Link)) {
	m.links.Range(func(_ uint64, l *Link) bool {
		fn(l)
		return true
	})
}

// Len returns the number of registered peer links.
func (m *Manager) Len() int {
	return m.links.Size()
}

// Start launches every registered link's Run loop under one cancellable
// context; Stop tears all of them down.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.links.Range(func(_ uint64, l *Link) bool {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			l.Run(ctx)
		}()
		return true
	})
}

// Stop cancels every link's Run loop and waits for them to return.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.links.Range(func(_ uint64, l *Link) bool {
		_ = l.Close()
		return true
	})
	m.wg.Wait()
}

// SendTo sends a frame to exactly one peer, returning an error if the
// peer is unknown or the send failed.
func (m *Manager) SendTo(peerID uint64, methodLine string, headers envelope.Headers, body []byte) error {
	link, ok := m.links.Load(peerID)
	if !ok {
		return errUnknownPeer(peerID)
	}
	return link.Send(methodLine, headers, body)
}

// Broadcast sends a frame to every registered peer, collecting and
// returning every per-peer send error via hashicorp/go-multierror rather
// than failing fast - a write to a QUORUM command needs to know which
// peers it could not reach, not just that one failed.
func (m *Manager) Broadcast(methodLine string, headers envelope.Headers, body []byte) error {
	var merr *multierror.Error
	var mu sync.Mutex

	var wg sync.WaitGroup
	m.links.Range(func(id uint64, l *Link) bool {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Send(methodLine, headers.Clone(), body); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, errSendFailed(id, err))
				mu.Unlock()
			}
		}()
		return true
	})
	wg.Wait()

	return merr.ErrorOrNil()
}

// ConnectedCount returns how many registered peers currently have a live
// socket - the basis for quorum-reachability checks.
func (m *Manager) ConnectedCount() int {
	count := 0
	m.links.Range(func(_ uint64, l *Link) bool {
		if l.Connected() {
			count++
		}
		return true
	})
	return count
}
