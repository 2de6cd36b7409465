package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/V4T54L/geofence-relay/internal/domain"
	"github.com/V4T54L/geofence-relay/internal/domain/mocks"
)

func TestManageGeofencesUseCase_Create(t *testing.T) {
	newUseCase := func(repo *mocks.MockGeofenceRepository) *ManageGeofencesUseCase {
		uc := NewManageGeofencesUseCase(repo, discardLogger)
		uc.newCode = func() string { return "code-1" }
		return uc
	}

	t.Run("Defaults Applied", func(t *testing.T) {
		repo := mocks.NewMockGeofenceRepository(nil)
		uc := newUseCase(repo)

		fence := pointFence("", "")
		fence.Properties.Radius = 0
		code, err := uc.Create(context.Background(), fence)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if code != "code-1" {
			t.Errorf("expected code-1, got %q", code)
		}

		stored, ok := repo.Fences["code-1"]
		if !ok {
			t.Fatal("expected fence to be stored")
		}
		if stored.Properties.ID != "code-1" {
			t.Errorf("expected properties.id to be code-1, got %q", stored.Properties.ID)
		}
		if stored.Properties.Name != "code-1" {
			t.Errorf("expected name to default to code, got %q", stored.Properties.Name)
		}
		if stored.Properties.Radius != domain.DefaultRadius {
			t.Errorf("expected default radius, got %v", stored.Properties.Radius)
		}
	})

	t.Run("Provided Values Kept", func(t *testing.T) {
		repo := mocks.NewMockGeofenceRepository(nil)
		uc := newUseCase(repo)

		fence := pointFence("", "Main Gate")
		fence.Properties.Radius = 250
		if _, err := uc.Create(context.Background(), fence); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		stored := repo.Fences["code-1"]
		if stored.Properties.Name != "Main Gate" || stored.Properties.Radius != 250 {
			t.Errorf("unexpected stored properties: %+v", stored.Properties)
		}
	})

	t.Run("Explicit Zero Values Kept", func(t *testing.T) {
		repo := mocks.NewMockGeofenceRepository(nil)
		uc := newUseCase(repo)

		var fence domain.Geofence
		body := `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"name":"","radius":0}}`
		if err := json.Unmarshal([]byte(body), &fence); err != nil {
			t.Fatal(err)
		}
		if _, err := uc.Create(context.Background(), fence); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		stored := repo.Fences["code-1"]
		if stored.Properties.Name != "" {
			t.Errorf("expected empty name to be kept, got %q", stored.Properties.Name)
		}
		if stored.Properties.Radius != 0 {
			t.Errorf("expected zero radius to be kept, got %v", stored.Properties.Radius)
		}
	})

	t.Run("Invalid Fence Rejected", func(t *testing.T) {
		repo := mocks.NewMockGeofenceRepository(nil)
		uc := newUseCase(repo)

		fence := pointFence("", "Nowhere")
		fence.Geometry.Coordinates = json.RawMessage(`[200, 95]`)
		_, err := uc.Create(context.Background(), fence)
		if !errors.Is(err, domain.ErrInvalidGeofence) {
			t.Fatalf("expected ErrInvalidGeofence, got %v", err)
		}
		var invalid *InvalidGeofenceError
		if !errors.As(err, &invalid) || len(invalid.Problems) != 2 {
			t.Errorf("expected 2 problems, got %v", err)
		}
		if len(repo.Fences) != 0 {
			t.Error("expected nothing to be stored")
		}
	})

	t.Run("Store Error Wrapped", func(t *testing.T) {
		repo := mocks.NewMockGeofenceRepository(nil)
		repo.SaveErr = errors.New("disk full")
		uc := newUseCase(repo)

		_, err := uc.Create(context.Background(), pointFence("", "x"))
		if err == nil || !errors.Is(err, repo.SaveErr) {
			t.Fatalf("expected wrapped save error, got %v", err)
		}
	})
}

func TestManageGeofencesUseCase_ListGetDelete(t *testing.T) {
	repo := mocks.NewMockGeofenceRepository(map[string]domain.Geofence{
		"A": pointFence("A", "A"),
		"B": pointFence("B", "B"),
	})
	uc := NewManageGeofencesUseCase(repo, discardLogger)
	ctx := context.Background()

	collection, err := uc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if collection.Type != domain.FeatureCollectionType || collection.Properties.TotalFeatures != 2 {
		t.Errorf("unexpected collection: type=%q total=%d", collection.Type, collection.Properties.TotalFeatures)
	}

	fence, err := uc.Get(ctx, "A")
	if err != nil || fence.Properties.ID != "A" {
		t.Fatalf("expected fence A, got %+v, %v", fence, err)
	}

	if err := uc.Delete(ctx, "A"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := uc.Get(ctx, "A"); !errors.Is(err, domain.ErrGeofenceNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	if err := uc.Delete(ctx, "A"); !errors.Is(err, domain.ErrGeofenceNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestManageGeofencesUseCase_CreateMany(t *testing.T) {
	newUseCase := func(repo *mocks.MockGeofenceRepository) *ManageGeofencesUseCase {
		uc := NewManageGeofencesUseCase(repo, discardLogger)
		n := 0
		uc.newCode = func() string {
			n++
			return fmt.Sprintf("code-%d", n)
		}
		return uc
	}

	t.Run("Every Feature Stored Under Its Own Code", func(t *testing.T) {
		repo := mocks.NewMockGeofenceRepository(nil)
		uc := newUseCase(repo)

		named := pointFence("", "Dock")
		unnamed := pointFence("", "")
		unnamed.Properties.Radius = 0
		n, err := uc.CreateMany(context.Background(), domain.NewGeofenceCollection([]domain.Geofence{named, unnamed}))
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 docs, got %d", n)
		}
		if got := repo.Fences["code-1"]; got.Properties.Name != "Dock" || got.Properties.ID != "code-1" {
			t.Errorf("unexpected first fence: %+v", got.Properties)
		}
		if got := repo.Fences["code-2"]; got.Properties.Name != "code-2" || got.Properties.Radius != domain.DefaultRadius {
			t.Errorf("expected defaults on second fence, got %+v", got.Properties)
		}
	})

	t.Run("One Invalid Feature Rejects All", func(t *testing.T) {
		repo := mocks.NewMockGeofenceRepository(nil)
		uc := newUseCase(repo)

		bad := pointFence("", "bad")
		bad.Geometry.Coordinates = json.RawMessage(`[0, 100]`)
		_, err := uc.CreateMany(context.Background(), domain.NewGeofenceCollection([]domain.Geofence{pointFence("", "ok"), bad}))

		var invalid *InvalidGeofenceError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidGeofenceError, got %v", err)
		}
		if len(invalid.Problems) != 1 || !strings.HasPrefix(invalid.Problems[0], "features[1]: ") {
			t.Errorf("unexpected problems: %v", invalid.Problems)
		}
		if len(repo.Fences) != 0 {
			t.Error("expected nothing to be stored")
		}
	})

	t.Run("Store Error Wrapped", func(t *testing.T) {
		repo := mocks.NewMockGeofenceRepository(nil)
		repo.SaveErr = errors.New("disk full")
		uc := newUseCase(repo)

		_, err := uc.CreateMany(context.Background(), domain.NewGeofenceCollection([]domain.Geofence{pointFence("", "x")}))
		if !errors.Is(err, repo.SaveErr) {
			t.Fatalf("expected wrapped save error, got %v", err)
		}
	})
}

func TestManageGeofencesUseCase_Update(t *testing.T) {
	storedDoc := `{"type":"Feature","bbox":[0,0,1,1],"geometry":{"type":"Point","coordinates":[1,2]},
		"properties":{"id":"A","name":"Old","radius":10,"floor":2}}`

	setup := func(t *testing.T) (*mocks.MockGeofenceRepository, *ManageGeofencesUseCase) {
		var stored domain.Geofence
		if err := json.Unmarshal([]byte(storedDoc), &stored); err != nil {
			t.Fatal(err)
		}
		repo := mocks.NewMockGeofenceRepository(map[string]domain.Geofence{"A": stored})
		return repo, NewManageGeofencesUseCase(repo, discardLogger)
	}

	t.Run("Members Merged And Code Kept", func(t *testing.T) {
		repo, uc := setup(t)

		var update domain.Geofence
		body := `{"type":"Feature","geometry":{"type":"Point","coordinates":[3,4]},"properties":{"id":"Z","name":"New"}}`
		if err := json.Unmarshal([]byte(body), &update); err != nil {
			t.Fatal(err)
		}
		if err := uc.Update(context.Background(), "A", update); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		got := repo.Fences["A"]
		if got.Properties.ID != "A" {
			t.Errorf("expected code to stay A, got %q", got.Properties.ID)
		}
		if got.Properties.Name != "New" || string(got.Geometry.Coordinates) != "[3,4]" {
			t.Errorf("expected update applied, got %+v", got)
		}
		if _, ok := got.Extra["bbox"]; !ok {
			t.Error("expected bbox to survive the update")
		}
		if _, ok := repo.Fences["Z"]; ok {
			t.Error("update must not store under the body's id")
		}
	})

	t.Run("Invalid Body Rejected", func(t *testing.T) {
		repo, uc := setup(t)

		update := pointFence("", "x")
		update.Type = "Polygon"
		if err := uc.Update(context.Background(), "A", update); !errors.Is(err, domain.ErrInvalidGeofence) {
			t.Fatalf("expected ErrInvalidGeofence, got %v", err)
		}
		if repo.Fences["A"].Properties.Name != "Old" {
			t.Error("expected stored fence untouched")
		}
	})

	t.Run("Unknown Code", func(t *testing.T) {
		_, uc := setup(t)
		if err := uc.Update(context.Background(), "nope", pointFence("", "x")); !errors.Is(err, domain.ErrGeofenceNotFound) {
			t.Fatalf("expected ErrGeofenceNotFound, got %v", err)
		}
	})
}

func TestManageGeofencesUseCase_ReportsCode(t *testing.T) {
	repo := mocks.NewMockGeofenceRepository(map[string]domain.Geofence{"A": pointFence("A", "A")})
	uc := NewManageGeofencesUseCase(repo, discardLogger)

	fence, err := uc.Get(context.Background(), "A")
	if err != nil {
		t.Fatal(err)
	}
	if fence.Properties.Code != "A" {
		t.Errorf("expected @code A, got %q", fence.Properties.Code)
	}

	collection, err := uc.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if collection.Features[0].Properties.Code != "A" {
		t.Errorf("expected listed @code A, got %q", collection.Features[0].Properties.Code)
	}
	if repo.Fences["A"].Properties.Code != "" {
		t.Error("stored fence must not carry @code")
	}
}
