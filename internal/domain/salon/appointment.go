package salon

import "time"

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	AppointmentScheduled     AppointmentStatus = "scheduled"
	AppointmentConfirmed     AppointmentStatus = "confirmed"
	AppointmentInProgress    AppointmentStatus = "in_progress"
	AppointmentCompleted     AppointmentStatus = "completed"
	AppointmentCanceled      AppointmentStatus = "canceled"
	AppointmentNoShow        AppointmentStatus = "no_show"
	AppointmentClientArrived AppointmentStatus = "client_arrived"
)

// Appointment is a booked service slot. The notification engine only ever
// writes Status.
type Appointment struct {
	ID                string
	ClientID          string
	ClientName        string
	ClientPhone       string
	ScheduledAt       time.Time
	ServiceName       string
	Price             float64
	ProfessionalName  string
	ProfessionalPhone string
	Status            AppointmentStatus
}
