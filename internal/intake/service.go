package intake

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"cadence/internal/logging"
	"cadence/internal/playlist"

	"github.com/fsnotify/fsnotify"
)

const EventAdmitted = "intake:admitted"

const defaultSettleDelay = 250 * time.Millisecond

// Admitter receives validated sources.
type Admitter interface {
	AddMany(sources []playlist.Source) []playlist.Track
}

type Emitter func(eventName string, payload any)

type Rejection struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type Result struct {
	Admitted []playlist.Track `json:"admitted"`
	Rejected []Rejection      `json:"rejected"`
}

type Status struct {
	InboxDir  string `json:"inboxDir"`
	Watching  bool   `json:"watching"`
	Admitted  int    `json:"admitted"`
	Rejected  int    `json:"rejected"`
	LastError string `json:"lastError,omitempty"`
	LastAt    string `json:"lastAt,omitempty"`
}

type Service struct {
	target      Admitter
	maxBytes    int64
	settleDelay time.Duration

	mu        sync.Mutex
	emit      Emitter
	inboxDir  string
	watching  bool
	cancel    context.CancelFunc
	done      chan struct{}
	admitted  int
	rejected  int
	lastError string
	lastAt    time.Time
}

func NewService(target Admitter, maxBytes int64) *Service {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	return &Service{
		target:      target,
		maxBytes:    maxBytes,
		settleDelay: defaultSettleDelay,
	}
}

func (s *Service) SetEmitter(emitter Emitter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit = emitter
}

func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Admit validates each path and adds the accepted ones to the playlist in a
// single batch, preserving argument order.
func (s *Service) Admit(paths []string) Result {
	result := Result{Admitted: []playlist.Track{}, Rejected: []Rejection{}}

	sources := make([]playlist.Source, 0, len(paths))
	for _, path := range paths {
		if err := Validate(path, s.maxBytes); err != nil {
			result.Rejected = append(result.Rejected, Rejection{Path: path, Reason: err.Error()})
			logging.Info("intake: rejected file", logging.String("path", path), logging.ErrorField(err))
			continue
		}
		sources = append(sources, Describe(path))
	}

	if len(sources) > 0 && s.target != nil {
		result.Admitted = s.target.AddMany(sources)
	}

	s.mu.Lock()
	s.admitted += len(result.Admitted)
	s.rejected += len(result.Rejected)
	if len(result.Rejected) > 0 {
		s.lastError = result.Rejected[len(result.Rejected)-1].Reason
	}
	s.lastAt = time.Now().UTC()
	emitter := s.emit
	s.mu.Unlock()

	if emitter != nil && len(result.Admitted) > 0 {
		emitter(EventAdmitted, result)
	}

	return result
}

// Watch admits audio files that appear in dir until ctx is cancelled or
// StopWatching is called. Only one directory is watched at a time.
func (s *Service) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create inbox watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch inbox %s: %w", dir, err)
	}

	s.StopWatching()

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.inboxDir = dir
	s.watching = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer watcher.Close()
		s.watchInbox(watchCtx, watcher)

		s.mu.Lock()
		s.watching = false
		s.mu.Unlock()
	}()

	logging.Info("intake: watching inbox", logging.String("dir", dir))
	return nil
}

func (s *Service) StopWatching() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (s *Service) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		InboxDir:  s.inboxDir,
		Watching:  s.watching,
		Admitted:  s.admitted,
		Rejected:  s.rejected,
		LastError: s.lastError,
	}
	if !s.lastAt.IsZero() {
		status.LastAt = s.lastAt.UTC().Format(time.RFC3339)
	}

	return status
}

// watchInbox waits for a file to stop changing for settleDelay before
// admitting it, so partially copied files are not validated.
func (s *Service) watchInbox(ctx context.Context, watcher *fsnotify.Watcher) {
	pending := make(map[string]time.Time)
	checkTicker := time.NewTicker(s.settleDelay / 4)
	defer checkTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 && IsAudioPath(event.Name) {
				pending[event.Name] = time.Now()
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				delete(pending, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.Warn("intake: inbox events dropped", logging.ErrorField(err))
				continue
			}
			s.mu.Lock()
			s.lastError = err.Error()
			s.mu.Unlock()
			logging.Error("intake: inbox watcher error", logging.ErrorField(err))

		case <-checkTicker.C:
			now := time.Now()
			ready := make([]string, 0, len(pending))
			for path, lastChange := range pending {
				if now.Sub(lastChange) < s.settleDelay {
					continue
				}
				ready = append(ready, path)
				delete(pending, path)
			}
			if len(ready) == 0 {
				continue
			}

			sort.Slice(ready, func(i, j int) bool {
				return filepath.Base(ready[i]) < filepath.Base(ready[j])
			})
			result := s.Admit(ready)
			logging.Info("intake: inbox batch",
				logging.Int("admitted", len(result.Admitted)),
				logging.Int("rejected", len(result.Rejected)),
			)
		}
	}
}
