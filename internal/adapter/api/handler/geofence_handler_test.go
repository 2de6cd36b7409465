package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/V4T54L/geofence-relay/internal/domain"
	"github.com/V4T54L/geofence-relay/internal/domain/mocks"
	"github.com/V4T54L/geofence-relay/internal/usecase"
)

func newGeofenceRouter(repo *mocks.MockGeofenceRepository) http.Handler {
	h := NewGeofenceHandler(usecase.NewManageGeofencesUseCase(repo, discardLogger), discardLogger, 1<<20)
	r := chi.NewRouter()
	r.Get("/geofences", h.List)
	r.Post("/geofences", h.Create)
	r.Get("/geofences/{code}", h.Get)
	r.Put("/geofences/{code}", h.Update)
	r.Delete("/geofences/{code}", h.Delete)
	return r
}

func storedFence(code string) domain.Geofence {
	return domain.Geofence{
		Type: domain.FeatureType,
		Geometry: domain.Geometry{
			Type:        domain.PointGeometry,
			Coordinates: json.RawMessage(`[10,20]`),
		},
		Properties: domain.GeofenceProperties{ID: code, Name: "Depot", Radius: 100},
	}
}

func TestGeofenceHandler_Create(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		saveErr        error
		expectedStatus int
		check          func(t *testing.T, body []byte, repo *mocks.MockGeofenceRepository)
	}{
		{
			name:           "Created",
			body:           `{"type":"Feature","geometry":{"type":"Point","coordinates":[-122.4,37.8]},"properties":{"name":"Pier"}}`,
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, body []byte, repo *mocks.MockGeofenceRepository) {
				var resp CreatedResponse
				if err := json.Unmarshal(body, &resp); err != nil || resp.Code == "" {
					t.Fatalf("expected @code in response, got %s", body)
				}
				fence, ok := repo.Fences[resp.Code]
				if !ok {
					t.Fatalf("fence %s not stored", resp.Code)
				}
				if fence.Properties.Radius != domain.DefaultRadius || fence.Properties.ID != resp.Code {
					t.Errorf("unexpected stored properties: %+v", fence.Properties)
				}
			},
		},
		{
			name:           "Out Of Range",
			body:           `{"type":"Feature","geometry":{"type":"Point","coordinates":[0,91]},"properties":{}}`,
			expectedStatus: http.StatusBadRequest,
			check: func(t *testing.T, body []byte, repo *mocks.MockGeofenceRepository) {
				var resp ErrorResponse
				json.Unmarshal(body, &resp)
				details, _ := resp.Details.([]any)
				if len(details) != 1 {
					t.Errorf("expected 1 problem, got %v", resp.Details)
				}
				if len(repo.Fences) != 0 {
					t.Error("expected nothing stored")
				}
			},
		},
		{
			name:           "Feature Collection",
			body:           `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,1]},"properties":{"name":"a"}},{"type":"Feature","geometry":{"type":"Point","coordinates":[2,2]},"properties":{"name":"b","floor":4}}]}`,
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, body []byte, repo *mocks.MockGeofenceRepository) {
				assertJSONEqual(t, `{"docs":2}`, string(body))
				if len(repo.Fences) != 2 {
					t.Fatalf("expected 2 stored fences, got %d", len(repo.Fences))
				}
				for code, f := range repo.Fences {
					if f.Properties.ID != code {
						t.Errorf("fence stored under %s carries id %q", code, f.Properties.ID)
					}
					if f.Properties.Name == "b" {
						if _, ok := f.Properties.Extra["floor"]; !ok {
							t.Error("expected custom property floor to be stored")
						}
					}
				}
			},
		},
		{
			name:           "Feature Collection With Invalid Feature",
			body:           `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,1]}},{"type":"Feature","geometry":{"type":"Point"}}]}`,
			expectedStatus: http.StatusBadRequest,
			check: func(t *testing.T, body []byte, repo *mocks.MockGeofenceRepository) {
				var resp ErrorResponse
				json.Unmarshal(body, &resp)
				details, _ := resp.Details.([]any)
				if len(details) != 1 || details[0] != "features[1]: geometry.coordinates is required" {
					t.Errorf("unexpected problems: %v", resp.Details)
				}
				if len(repo.Fences) != 0 {
					t.Error("expected nothing stored")
				}
			},
		},
		{
			name:           "Explicit Zero Radius And Empty Name",
			body:           `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,1]},"properties":{"name":"","radius":0}}`,
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, body []byte, repo *mocks.MockGeofenceRepository) {
				var resp CreatedResponse
				json.Unmarshal(body, &resp)
				fence := repo.Fences[resp.Code]
				if fence.Properties.Name != "" || fence.Properties.Radius != 0 {
					t.Errorf("expected explicit values kept, got %+v", fence.Properties)
				}
			},
		},
		{
			name:           "Malformed",
			body:           `{"type":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Store Failure",
			body:           `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,1]},"properties":{}}`,
			saveErr:        errors.New("read-only replica"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := mocks.NewMockGeofenceRepository(nil)
			repo.SaveErr = tt.saveErr
			router := newGeofenceRouter(repo)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/geofences", strings.NewReader(tt.body)))

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d (%s)", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.check != nil {
				tt.check(t, rr.Body.Bytes(), repo)
			}
		})
	}
}

func TestGeofenceHandler_GetListDelete(t *testing.T) {
	repo := mocks.NewMockGeofenceRepository(map[string]domain.Geofence{"depot": storedFence("depot")})
	router := newGeofenceRouter(repo)

	do := func(method, path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
		return rr
	}

	rr := do(http.MethodGet, "/geofences")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	var collection domain.GeofenceCollection
	if err := json.Unmarshal(rr.Body.Bytes(), &collection); err != nil {
		t.Fatalf("list: bad body: %v", err)
	}
	if collection.Type != "FeatureCollection" || collection.Properties.TotalFeatures != 1 {
		t.Errorf("list: unexpected collection %+v", collection)
	}

	rr = do(http.MethodGet, "/geofences/depot")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	assertJSONEqual(t, `{"type":"Feature","geometry":{"type":"Point","coordinates":[10,20]},"properties":{"id":"depot","@code":"depot","name":"Depot","radius":100}}`, rr.Body.String())

	if rr = do(http.MethodGet, "/geofences/unknown"); rr.Code != http.StatusNotFound {
		t.Errorf("get unknown: expected 404, got %d", rr.Code)
	}

	if rr = do(http.MethodDelete, "/geofences/depot"); rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}
	if rr = do(http.MethodDelete, "/geofences/depot"); rr.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rr.Code)
	}
}

func TestGeofenceHandler_ListStoreFailure(t *testing.T) {
	repo := mocks.NewMockGeofenceRepository(nil)
	repo.ListErr = errors.New("timeout")

	rr := httptest.NewRecorder()
	newGeofenceRouter(repo).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/geofences", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rr.Code)
	}
}

func TestGeofenceHandler_Update(t *testing.T) {
	tests := []struct {
		name           string
		code           string
		body           string
		expectedStatus int
		check          func(t *testing.T, body []byte, repo *mocks.MockGeofenceRepository)
	}{
		{
			name:           "Merged",
			code:           "depot",
			body:           `{"type":"Feature","geometry":{"type":"Point","coordinates":[11,21]},"properties":{"name":"Yard"},"bbox":[11,21,11,21]}`,
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body []byte, repo *mocks.MockGeofenceRepository) {
				assertJSONEqual(t, `{"@code":"depot"}`, string(body))
				out, _ := json.Marshal(repo.Fences["depot"])
				assertJSONEqual(t, `{"type":"Feature","bbox":[11,21,11,21],"geometry":{"type":"Point","coordinates":[11,21]},"properties":{"id":"depot","name":"Yard","radius":0}}`, string(out))
			},
		},
		{
			name:           "Invalid",
			code:           "depot",
			body:           `{"type":"Feature","geometry":{"type":"Point","coordinates":[500,0]}}`,
			expectedStatus: http.StatusBadRequest,
			check: func(t *testing.T, body []byte, repo *mocks.MockGeofenceRepository) {
				if repo.Fences["depot"].Properties.Name != "Depot" {
					t.Error("expected stored fence untouched")
				}
			},
		},
		{
			name:           "Malformed",
			code:           "depot",
			body:           `[`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Unknown Code",
			code:           "missing",
			body:           `{"type":"Feature","geometry":{"type":"Point","coordinates":[1,1]}}`,
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := mocks.NewMockGeofenceRepository(map[string]domain.Geofence{"depot": storedFence("depot")})
			router := newGeofenceRouter(repo)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/geofences/"+tt.code, strings.NewReader(tt.body)))

			if rr.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d (%s)", tt.expectedStatus, rr.Code, rr.Body.String())
			}
			if tt.check != nil {
				tt.check(t, rr.Body.Bytes(), repo)
			}
		})
	}
}
