package main

import (
	"fmt"

	"cadence/internal/playlist"
	"cadence/internal/session"
)

type PlaylistService struct {
	playlist *playlist.Service
	session  *session.Service
}

func NewPlaylistService(playlistService *playlist.Service, sessionService *session.Service) *PlaylistService {
	return &PlaylistService{playlist: playlistService, session: sessionService}
}

func (s *PlaylistService) GetState() playlist.State {
	return s.playlist.GetState()
}

func (s *PlaylistService) RemoveTrack(id string) (playlist.State, error) {
	if !s.playlist.Remove(id) {
		return s.playlist.GetState(), fmt.Errorf("track %s is not in the playlist", id)
	}
	return s.playlist.GetState(), nil
}

func (s *PlaylistService) Clear() playlist.State {
	return s.playlist.Clear()
}

func (s *PlaylistService) SelectTrack(id string) (playlist.State, error) {
	if !s.session.Select(id) {
		return s.playlist.GetState(), fmt.Errorf("track %s is not in the playlist", id)
	}
	return s.playlist.GetState(), nil
}

func (s *PlaylistService) Next() playlist.State {
	s.session.Next()
	return s.playlist.GetState()
}

func (s *PlaylistService) Previous() playlist.State {
	s.session.Previous()
	return s.playlist.GetState()
}

func (s *PlaylistService) ToggleShuffle() playlist.State {
	return s.playlist.ToggleShuffle()
}

func (s *PlaylistService) ToggleRepeat() playlist.State {
	s.playlist.ToggleRepeat()
	return s.playlist.GetState()
}

func (s *PlaylistService) SetRepeatMode(mode string) (playlist.State, error) {
	return s.playlist.SetRepeatMode(mode)
}
