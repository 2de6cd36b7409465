package domain

// CrossingType is the direction of a geofence boundary transition.
type CrossingType string

const (
	CrossingEnter CrossingType = "enter"
	CrossingExit  CrossingType = "exit"
)

// CrossingEvent represents one device's boundary transition as reported by the SDK.
type CrossingEvent struct {
	DeviceDescriptor string       `json:"descriptor"`
	DetectedTime     string       `json:"detectedTime"` // ISO-8601, kept verbatim
	GeofenceCode     string       `json:"geofenceCode"`
	CrossingType     CrossingType `json:"crossingType"`
}

// NotificationBatch is the ordered set of crossing events delivered by one request.
// ID is assigned server-side for log correlation only.
type NotificationBatch struct {
	ID     string
	Events []CrossingEvent
}

// EnrichedMessage is the unit published downstream for every event whose
// geofence code resolved.
type EnrichedMessage struct {
	DeviceDescriptor string       `json:"deviceDescriptor"`
	DetectedTime     string       `json:"detectedTime"`
	GeofenceCode     string       `json:"geofenceCode"`
	Geofence         Geofence     `json:"geofence"`
	CrossingType     CrossingType `json:"crossingType"`
}

// NewEnrichedMessage combines a crossing event with the metadata of its fence.
func NewEnrichedMessage(event CrossingEvent, fence Geofence) EnrichedMessage {
	return EnrichedMessage{
		DeviceDescriptor: event.DeviceDescriptor,
		DetectedTime:     event.DetectedTime,
		GeofenceCode:     event.GeofenceCode,
		Geofence:         fence,
		CrossingType:     event.CrossingType,
	}
}
