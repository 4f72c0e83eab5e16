package main

import "cadence/internal/intake"

type IntakeService struct {
	intake *intake.Service
}

func NewIntakeService(intakeService *intake.Service) *IntakeService {
	return &IntakeService{intake: intakeService}
}

// AddFiles admits files and the audio files found under any directories.
func (s *IntakeService) AddFiles(paths []string) (intake.Result, error) {
	expanded, err := intake.Expand(paths)
	if err != nil {
		return intake.Result{}, err
	}
	return s.intake.Admit(expanded), nil
}

func (s *IntakeService) ValidateFile(path string) error {
	return intake.Validate(path, s.intake.MaxBytes())
}

func (s *IntakeService) GetStatus() intake.Status {
	return s.intake.GetStatus()
}
