package main

import (
	"cadence/internal/intake"
	"cadence/internal/session"
)

type StartupSnapshot struct {
	Session      session.Snapshot `json:"session"`
	IntakeStatus intake.Status    `json:"intakeStatus"`
	MaxUploadMB  int              `json:"maxUploadMb"`
}

type SessionService struct {
	session *session.Service
	intake  *intake.Service
}

func NewSessionService(sessionService *session.Service, intakeService *intake.Service) *SessionService {
	return &SessionService{session: sessionService, intake: intakeService}
}

func (s *SessionService) GetInitialState() StartupSnapshot {
	return StartupSnapshot{
		Session:      s.session.Snapshot(),
		IntakeStatus: s.intake.GetStatus(),
		MaxUploadMB:  int(s.intake.MaxBytes() >> 20),
	}
}

func (s *SessionService) GetBPM() int {
	return s.session.BPM()
}
