package services

import (
	"context"
	"fmt"
	"sync"

	"pyrite/internal/core/domain"
	"pyrite/internal/core/ports"
	apperrors "pyrite/pkg/errors"

	"go.uber.org/zap"
)

// DeviceService tracks the camera and microphone choices and turns them into
// capture constraints.
type DeviceService struct {
	provider ports.MediaCaptureProvider
	notifier *NotificationService
	logger   *zap.SugaredLogger

	mu         sync.RWMutex
	camera     domain.DeviceSelection
	microphone domain.DeviceSelection
}

func NewDeviceService(
	provider ports.MediaCaptureProvider,
	notifier *NotificationService,
	logger *zap.SugaredLogger,
) *DeviceService {
	return &DeviceService{
		provider:   provider,
		notifier:   notifier,
		logger:     logger,
		camera:     domain.DeviceSelection{Resolution: domain.ResolutionDefault, Enabled: true},
		microphone: domain.DeviceSelection{Enabled: true},
	}
}

// Refresh re-enumerates capture devices. Unlabeled devices get a numbered
// name; a selection is only defaulted when none exists.
func (s *DeviceService) Refresh(ctx context.Context) error {
	devices, err := s.provider.EnumerateDevices(ctx)
	if err != nil {
		capErr := apperrors.NewCaptureError("couldn't enumerate devices", err)
		s.logger.Warnw("device enumeration failed", "error", err)
		s.notifier.Error(capErr.Message)
		return capErr
	}

	var cams, mics []domain.DeviceOption
	for _, d := range devices {
		switch d.Kind {
		case domain.DeviceVideoInput:
			name := d.Label
			if name == "" {
				name = fmt.Sprintf("Camera %d", len(cams)+1)
			}
			cams = append(cams, domain.DeviceOption{ID: d.DeviceID, Name: name})
		case domain.DeviceAudioInput:
			name := d.Label
			if name == "" {
				name = fmt.Sprintf("Microphone %d", len(mics)+1)
			}
			mics = append(mics, domain.DeviceOption{ID: d.DeviceID, Name: name})
		}
	}

	s.mu.Lock()
	s.camera.Options = cams
	s.microphone.Options = mics
	if s.camera.Selected == nil && len(cams) > 0 {
		first := cams[0]
		s.camera.Selected = &first
	}
	if s.microphone.Selected == nil && len(mics) > 0 {
		first := mics[0]
		s.microphone.Selected = &first
	}
	s.mu.Unlock()

	s.logger.Infow("devices refreshed", "video", len(cams), "audio", len(mics))
	return nil
}

// Select chooses a device by id among the known options.
func (s *DeviceService) Select(kind domain.DeviceKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.selection(kind)
	if err != nil {
		return err
	}
	for _, opt := range sel.Options {
		if opt.ID == id {
			chosen := opt
			sel.Selected = &chosen
			return nil
		}
	}
	return apperrors.NewNotFoundError("device " + id)
}

func (s *DeviceService) SetResolution(r domain.Resolution) error {
	switch r {
	case domain.ResolutionDefault, domain.Resolution720p, domain.Resolution1080p:
	default:
		return apperrors.NewInvalidInputError("unknown resolution " + string(r))
	}
	s.mu.Lock()
	s.camera.Resolution = r
	s.mu.Unlock()
	return nil
}

func (s *DeviceService) Resolution() domain.Resolution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.camera.Resolution
}

// SetEnabled records whether the user wants the kind published.
func (s *DeviceService) SetEnabled(kind domain.DeviceKind, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sel, err := s.selection(kind)
	if err != nil {
		return err
	}
	sel.Enabled = enabled
	return nil
}

func (s *DeviceService) Presence() domain.Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Presence{Camera: s.camera.Enabled, Microphone: s.microphone.Enabled}
}

// Selection returns a copy of the selection for kind.
func (s *DeviceService) Selection(kind domain.DeviceKind) domain.DeviceSelection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sel domain.DeviceSelection
	switch kind {
	case domain.DeviceVideoInput:
		sel = s.camera
	case domain.DeviceAudioInput:
		sel = s.microphone
	}
	sel.Options = append([]domain.DeviceOption(nil), sel.Options...)
	if sel.Selected != nil {
		chosen := *sel.Selected
		sel.Selected = &chosen
	}
	return sel
}

// BuildConstraints derives capture constraints from the current selection.
// A kind is left out when presence disables it or no device is selected for
// it. ok is false when neither kind remains.
func (s *DeviceService) BuildConstraints(presence *domain.Presence) (constraints domain.MediaConstraints, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.microphone.Selected != nil && s.microphone.Selected.ID != "" {
		constraints.Audio = &domain.AudioConstraints{DeviceID: s.microphone.Selected.ID}
	}
	if s.camera.Selected != nil && s.camera.Selected.ID != "" {
		video := &domain.VideoConstraints{DeviceID: s.camera.Selected.ID}
		switch s.camera.Resolution {
		case domain.Resolution720p:
			video.Width = &domain.Range{Ideal: 1280, Min: 640}
			video.Height = &domain.Range{Ideal: 720, Min: 400}
		case domain.Resolution1080p:
			video.Width = &domain.Range{Ideal: 1920, Min: 640}
			video.Height = &domain.Range{Ideal: 1080, Min: 400}
		}
		constraints.Video = video
	}

	if presence != nil {
		if !presence.Camera {
			constraints.Video = nil
		}
		if !presence.Microphone {
			constraints.Audio = nil
		}
	}

	if constraints.Audio == nil && constraints.Video == nil {
		s.logger.Debugw("no capture kind enabled, skipping acquisition")
		return domain.MediaConstraints{}, false
	}
	return constraints, true
}

func (s *DeviceService) selection(kind domain.DeviceKind) (*domain.DeviceSelection, error) {
	switch kind {
	case domain.DeviceVideoInput:
		return &s.camera, nil
	case domain.DeviceAudioInput:
		return &s.microphone, nil
	}
	return nil, apperrors.NewInvalidInputError("unknown device kind " + string(kind))
}
