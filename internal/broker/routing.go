package broker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DELIVERY carries frames between instances for live routing only. Nothing
// is replayed to a connection that was not there when the frame was sent.
//
// NOTIFICATIONS is a work queue fed by the surrounding application.
var (
	StreamDelivery        = "DELIVERY"
	SubjectDelivery       = StreamDelivery + ".>"
	subjectDeliveryPrefix = StreamDelivery + ".user."

	StreamNotifications  = "NOTIFICATIONS"
	SubjectNotifications = StreamNotifications + ".>"
)

// SubjectForUser is the delivery subject for every connection of userID.
func SubjectForUser(userID uuid.UUID) string {
	return subjectDeliveryPrefix + userID.String()
}

// UserFromSubject is the inverse of SubjectForUser.
func UserFromSubject(subject string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(subject, subjectDeliveryPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("internal/broker: %q is not a delivery subject", subject)
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, fmt.Errorf("internal/broker: %q is not a delivery subject: %w", subject, err)
	}
	return id, nil
}

// SubjectForKind is where the application publishes notifications of kind.
func SubjectForKind(kind string) string {
	return StreamNotifications + "." + kind
}
