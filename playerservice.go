package main

import (
	"context"

	"cadence/internal/player"
	"cadence/internal/session"
)

type PlayerService struct {
	player  *player.Service
	session *session.Service
}

func NewPlayerService(playerService *player.Service, sessionService *session.Service) *PlayerService {
	return &PlayerService{player: playerService, session: sessionService}
}

// Load goes through the session so the playlist selection follows the engine.
func (s *PlayerService) Load(trackID string, autoPlay bool) (player.State, error) {
	err := s.session.Load(trackID, autoPlay)
	return s.player.GetState(), err
}

func (s *PlayerService) GetState() player.State {
	return s.player.GetState()
}

func (s *PlayerService) Play() (player.State, error) {
	err := s.player.Play(context.Background())
	return s.player.GetState(), err
}

func (s *PlayerService) Pause() (player.State, error) {
	err := s.player.Pause(context.Background())
	return s.player.GetState(), err
}

func (s *PlayerService) TogglePlayback() (player.State, error) {
	err := s.player.TogglePlayback(context.Background())
	return s.player.GetState(), err
}

func (s *PlayerService) Seek(seconds float64) (player.State, error) {
	err := s.player.Seek(context.Background(), seconds)
	return s.player.GetState(), err
}

func (s *PlayerService) SetVolume(volume int) player.State {
	return s.player.SetVolume(volume)
}

func (s *PlayerService) GetSampleBuffer() []uint8 {
	return s.player.SampleBuffer()
}
