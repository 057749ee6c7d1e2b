// Package hud holds the state rendered by the heads-up display front-end and
// serves it over HTTP and WebSocket.
//
// A [Store] is written by the assistant and the built-in tools and read by
// any number of subscribers. Every setter replaces the relevant field (last
// write wins) and publishes a fresh [Snapshot].
package hud

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/uplink/internal/status"
	"github.com/MrWong99/uplink/internal/tools/timer"
)

// MaxMaps is the number of map links kept; older links are dropped first.
const MaxMaps = 8

// Content types accepted by the content panel.
const (
	ContentText       = "text"
	ContentCode       = "code"
	ContentCorrection = "correction"
)

// Content is the document shown in the content panel.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  string `json:"type"`
}

// MapLink is a map search result shown on the HUD.
type MapLink struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Snapshot is an immutable copy of the HUD state.
type Snapshot struct {
	Status    status.Status `json:"status"`
	Sharing   bool          `json:"sharing"`
	Timers    []timer.Entry `json:"timers"`
	Content   *Content      `json:"content,omitempty"`
	Maps      []MapLink     `json:"maps"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

func (s Snapshot) clone() Snapshot {
	s.Timers = slices.Clone(s.Timers)
	s.Maps = slices.Clone(s.Maps)
	if s.Content != nil {
		c := *s.Content
		s.Content = &c
	}
	return s
}

// Store is the HUD state. It is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	snap Snapshot
	subs map[int]chan Snapshot
	next int
	now  func() time.Time
}

// NewStore returns a Store in the Idle state.
func NewStore() *Store {
	s := &Store{
		subs: make(map[int]chan Snapshot),
		now:  time.Now,
	}
	s.snap = Snapshot{Status: status.Idle, Timers: []timer.Entry{}, Maps: []MapLink{}, UpdatedAt: s.now()}
	return s
}

// Snapshot returns the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.clone()
}

// SetStatus records the session status.
func (s *Store) SetStatus(st status.Status) {
	s.update(func(sn *Snapshot) { sn.Status = st })
}

// SetSharing records whether screen sampling is active.
func (s *Store) SetSharing(on bool) {
	s.update(func(sn *Snapshot) { sn.Sharing = on })
}

// SetTimers replaces the timer list. It matches [timer.Board.OnChange].
func (s *Store) SetTimers(es []timer.Entry) {
	es = slices.Clone(es)
	if es == nil {
		es = []timer.Entry{}
	}
	s.update(func(sn *Snapshot) { sn.Timers = es })
}

// ShowContent replaces the content panel. Unknown types fall back to text.
func (s *Store) ShowContent(c Content) {
	switch c.Type {
	case ContentText, ContentCode, ContentCorrection:
	default:
		c.Type = ContentText
	}
	s.update(func(sn *Snapshot) { sn.Content = &c })
}

// ClearContent closes the content panel.
func (s *Store) ClearContent() {
	s.update(func(sn *Snapshot) { sn.Content = nil })
}

// AddMap appends a map link, keeping at most [MaxMaps].
func (s *Store) AddMap(m MapLink) {
	s.update(func(sn *Snapshot) {
		maps := append(slices.Clone(sn.Maps), m)
		if n := len(maps); n > MaxMaps {
			maps = maps[n-MaxMaps:]
		}
		sn.Maps = maps
	})
}

// Subscribe returns a channel that receives the current snapshot immediately
// and every later one. A slow reader skips intermediate snapshots but always
// sees the latest. cancel releases the subscription and closes the channel.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	ch <- s.snap.clone()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.snap.UpdatedAt = s.now()
	for _, ch := range s.subs {
		publish(ch, s.snap.clone())
	}
}

// publish replaces any undelivered snapshot with snap. Callers hold s.mu, so
// there is a single writer per channel.
func publish(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- snap
}
