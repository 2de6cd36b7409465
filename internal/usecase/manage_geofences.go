package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

// ManageGeofencesUseCase provides the CRUD operations behind the geofence
// management API.
type ManageGeofencesUseCase struct {
	repo    domain.GeofenceRepository
	logger  *slog.Logger
	newCode func() string
}

// NewManageGeofencesUseCase creates a new ManageGeofencesUseCase.
func NewManageGeofencesUseCase(repo domain.GeofenceRepository, logger *slog.Logger) *ManageGeofencesUseCase {
	return &ManageGeofencesUseCase{
		repo:    repo,
		logger:  logger.With("component", "geofence_admin"),
		newCode: uuid.NewString,
	}
}

func (uc *ManageGeofencesUseCase) List(ctx context.Context) (domain.GeofenceCollection, error) {
	fences, err := uc.repo.List(ctx)
	if err != nil {
		return domain.GeofenceCollection{}, err
	}
	for i := range fences {
		fences[i] = withAdminCode(fences[i])
	}
	return domain.NewGeofenceCollection(fences), nil
}

func (uc *ManageGeofencesUseCase) Get(ctx context.Context, code string) (*domain.Geofence, error) {
	fence, err := uc.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	out := withAdminCode(*fence)
	return &out, nil
}

// withAdminCode reports the stored code as the @code property.
func withAdminCode(fence domain.Geofence) domain.Geofence {
	fence.Properties.Code = fence.Properties.ID
	return fence
}

// InvalidGeofenceError lists every problem found in a submitted geofence.
type InvalidGeofenceError struct {
	Problems []string
}

func (e *InvalidGeofenceError) Error() string {
	return fmt.Sprintf("%s: %d problem(s)", domain.ErrInvalidGeofence, len(e.Problems))
}

func (e *InvalidGeofenceError) Unwrap() error {
	return domain.ErrInvalidGeofence
}

// Create stores a new geofence under a freshly generated code. A missing
// name defaults to the code and a missing radius to domain.DefaultRadius.
func (uc *ManageGeofencesUseCase) Create(ctx context.Context, fence domain.Geofence) (string, error) {
	if problems := fence.Check(); len(problems) > 0 {
		return "", &InvalidGeofenceError{Problems: problems}
	}

	fence, code := uc.prepare(fence)
	if err := uc.repo.Save(ctx, code, fence); err != nil {
		return "", fmt.Errorf("failed to save geofence: %w", err)
	}
	uc.logger.Info("geofence created", "geofence_code", code, "name", fence.Properties.Name)
	return code, nil
}

// CreateMany stores every feature of collection under its own fresh code.
// Nothing is stored when any feature is invalid.
func (uc *ManageGeofencesUseCase) CreateMany(ctx context.Context, collection domain.GeofenceCollection) (int, error) {
	if problems := collection.Check(); len(problems) > 0 {
		return 0, &InvalidGeofenceError{Problems: problems}
	}

	fences := make([]domain.Geofence, 0, len(collection.Features))
	for _, f := range collection.Features {
		fence, _ := uc.prepare(f)
		fences = append(fences, fence)
	}
	if err := uc.repo.SaveAll(ctx, fences); err != nil {
		return 0, fmt.Errorf("failed to save geofences: %w", err)
	}
	uc.logger.Info("geofences created", "count", len(fences))
	return len(fences), nil
}

// Update merges the top-level members of update into the geofence stored
// under code. The code itself cannot be changed.
func (uc *ManageGeofencesUseCase) Update(ctx context.Context, code string, update domain.Geofence) error {
	if problems := update.Check(); len(problems) > 0 {
		return &InvalidGeofenceError{Problems: problems}
	}

	err := uc.repo.Update(ctx, code, func(cur domain.Geofence) (domain.Geofence, error) {
		return cur.Merge(update).WithCode(code), nil
	})
	if err != nil {
		return err
	}
	uc.logger.Info("geofence updated", "geofence_code", code)
	return nil
}

func (uc *ManageGeofencesUseCase) prepare(fence domain.Geofence) (domain.Geofence, string) {
	code := uc.newCode()
	fence = fence.WithCode(code)
	if !fence.Properties.Has("name") {
		fence.Properties.Name = code
	}
	if !fence.Properties.Has("radius") {
		fence.Properties.Radius = domain.DefaultRadius
	}
	return fence, code
}

func (uc *ManageGeofencesUseCase) Delete(ctx context.Context, code string) error {
	if err := uc.repo.Delete(ctx, code); err != nil {
		return err
	}
	uc.logger.Info("geofence deleted", "geofence_code", code)
	return nil
}
