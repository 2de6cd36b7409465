package validation

import "github.com/V4T54L/geofence-relay/internal/domain"

// ToBatch converts a payload that passed Validate into typed crossing events,
// preserving notification order.
func ToBatch(id string, payload any) domain.NotificationBatch {
	obj, _ := payload.(map[string]any)
	notifications, _ := obj[NotificationsField].([]any)

	events := make([]domain.CrossingEvent, 0, len(notifications))
	for _, n := range notifications {
		notification := asObject(n)
		data := asObject(notification[DataField])
		events = append(events, domain.CrossingEvent{
			DeviceDescriptor: stringField(notification, "descriptor"),
			DetectedTime:     stringField(notification, "detectedTime"),
			GeofenceCode:     stringField(data, "geofenceCode"),
			CrossingType:     domain.CrossingType(stringField(data, "crossingType")),
		})
	}
	return domain.NotificationBatch{ID: id, Events: events}
}

func stringField(obj map[string]any, field string) string {
	s, _ := obj[field].(string)
	return s
}
