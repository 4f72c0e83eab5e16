package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"cadence/internal/config"
	"cadence/internal/intake"
)

type SettingsView struct {
	InboxDir      string `json:"inboxDir"`
	InboxWatching bool   `json:"inboxWatching"`
	DefaultVolume int    `json:"defaultVolume"`
	MaxUploadMB   int    `json:"maxUploadMb"`
	History       bool   `json:"history"`
	LogFile       string `json:"logFile"`
}

type SettingsService struct {
	mu       sync.Mutex
	settings config.Settings
	intake   *intake.Service
}

func NewSettingsService(settings config.Settings, intakeService *intake.Service) *SettingsService {
	return &SettingsService{settings: settings, intake: intakeService}
}

func (s *SettingsService) GetSettings() SettingsView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// SetInboxDir moves the watched inbox to path for the rest of the process.
func (s *SettingsService) SetInboxDir(path string) (SettingsView, error) {
	cleaned, err := normalizePath(path)
	if err != nil {
		return s.GetSettings(), err
	}

	if err := s.intake.Watch(context.Background(), cleaned); err != nil {
		return s.GetSettings(), fmt.Errorf("watch inbox: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.InboxDir = cleaned
	return s.viewLocked(), nil
}

func (s *SettingsService) DisableInbox() SettingsView {
	s.intake.StopWatching()
	return s.GetSettings()
}

func (s *SettingsService) viewLocked() SettingsView {
	status := s.intake.GetStatus()
	inbox := s.settings.InboxDir
	if status.InboxDir != "" {
		inbox = status.InboxDir
	}

	return SettingsView{
		InboxDir:      inbox,
		InboxWatching: status.Watching,
		DefaultVolume: s.settings.DefaultVolume,
		MaxUploadMB:   s.settings.MaxUploadMB,
		History:       s.settings.History,
		LogFile:       s.settings.LogFile,
	}
}

func normalizePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is required")
	}

	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	return filepath.Clean(absPath), nil
}
