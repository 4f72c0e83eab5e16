// Package platform binds OS-level media keys to the player.
package platform

import (
	"context"
	"sync"

	"cadence/internal/logging"

	"github.com/wailsapp/wails/v3/pkg/application"
)

const (
	acceleratorMediaPlayPause = "MEDIA_PLAY_PAUSE"
	acceleratorMediaNextTrack = "MEDIA_NEXT_TRACK"
	acceleratorMediaPrevTrack = "MEDIA_PREV_TRACK"
)

type Playback interface {
	TogglePlayback(ctx context.Context) error
}

type Navigator interface {
	Next() bool
	Previous() bool
}

type Service struct {
	app       *application.App
	playback  Playback
	navigator Navigator

	mu           sync.Mutex
	accelerators []string
}

func NewService(app *application.App, playback Playback, navigator Navigator) *Service {
	return &Service{app: app, playback: playback, navigator: navigator}
}

func (s *Service) Start() error {
	if s.app == nil {
		return nil
	}

	if err := initializeProcessIdentity(); err != nil {
		logging.Warn("platform: app identity setup failed", logging.ErrorField(err))
	}

	for accelerator, action := range s.actions() {
		s.registerBinding(accelerator, action)
	}

	return nil
}

func (s *Service) Stop() error {
	s.mu.Lock()
	accelerators := s.accelerators
	s.accelerators = nil
	s.mu.Unlock()

	if s.app == nil {
		return nil
	}
	for _, accelerator := range accelerators {
		s.app.KeyBinding.Remove(accelerator)
	}

	return nil
}

func (s *Service) actions() map[string]func() {
	return map[string]func(){
		acceleratorMediaPlayPause: func() {
			if err := s.playback.TogglePlayback(context.Background()); err != nil {
				logging.Warn("platform: media key toggle failed", logging.ErrorField(err))
			}
		},
		acceleratorMediaNextTrack: func() {
			if !s.navigator.Next() {
				logging.Debug("platform: media key next ignored")
			}
		},
		acceleratorMediaPrevTrack: func() {
			if !s.navigator.Previous() {
				logging.Debug("platform: media key previous ignored")
			}
		},
	}
}

func (s *Service) registerBinding(accelerator string, action func()) {
	s.mu.Lock()
	s.accelerators = append(s.accelerators, accelerator)
	s.mu.Unlock()

	s.app.KeyBinding.Add(accelerator, func(_ application.Window) {
		action()
	})
}
