package update

import (
	"context"

	"appupdate/internal/models"
)

// CheckUpdate offers the released version when its code is above the
// client's. It reads registry state and has no side effects.
func (s *Service) CheckUpdate(ctx context.Context, req *models.UpdateCheckRequest) (*models.UpdateDecision, error) {
	if req == nil {
		return nil, NewValidationError("request is required", nil)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, NewValidationError(err.Error(), err)
	}

	app, err := s.getApplication(ctx, req.AppID)
	if err != nil {
		return nil, err
	}
	released, err := s.releasedVersion(ctx, req.AppID)
	if err != nil {
		return nil, err
	}

	decision := &models.UpdateDecision{}
	if released == nil || released.VersionCode <= req.CurrentVersionCode {
		decision.SetNoUpdateAvailable(req.CurrentVersionCode)
	} else {
		decision.CurrentVersionCode = req.CurrentVersionCode
		decision.SetUpdateAvailable(app, released)
	}

	s.metrics.recordCheck(ctx, req.AppID, decision.HasUpdate)
	return decision, nil
}
