package usecase

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/V4T54L/geofence-relay/internal/domain"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// ignoreDecodeState skips the member bookkeeping a decoded fence carries.
var ignoreDecodeState = cmpopts.IgnoreUnexported(domain.Geofence{}, domain.GeofenceProperties{})

func pointFence(code, name string) domain.Geofence {
	return domain.Geofence{
		Type: domain.FeatureType,
		Geometry: domain.Geometry{
			Type:        domain.PointGeometry,
			Coordinates: json.RawMessage(`[-73.98,40.75]`),
		},
		Properties: domain.GeofenceProperties{ID: code, Name: name, Radius: domain.DefaultRadius},
	}
}

func crossing(device, code string, kind domain.CrossingType) domain.CrossingEvent {
	return domain.CrossingEvent{
		DeviceDescriptor: device,
		DetectedTime:     "2016-10-10T20:20:20Z",
		GeofenceCode:     code,
		CrossingType:     kind,
	}
}
