// internal/domain/notification/shared_types.go
package notification

// Kind identifies which automation produced a ledger entry.
type Kind string

const (
	KindConfirmation Kind = "confirmation"
	KindReminder     Kind = "reminder"
	KindBirthday     Kind = "birthday"
)

// DeliveryStatus is the delivery lifecycle of a single message.
type DeliveryStatus string

const (
	StatusQueued    DeliveryStatus = "queued"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusReplied   DeliveryStatus = "replied"
	StatusFailed    DeliveryStatus = "failed"
)

// ForwardOrder lists the non-failed statuses from earliest to latest.
// A ledger entry only ever moves rightwards in this list.
var ForwardOrder = []DeliveryStatus{StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusReplied}

// Rank returns the position of s in ForwardOrder, or -1 for failed/unknown.
func (s DeliveryStatus) Rank() int {
	for i, st := range ForwardOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next keeps the lifecycle forward-only.
// Failed entries never advance; repeating the current status is not an advance.
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	from, to := s.Rank(), next.Rank()
	if from < 0 || to < 0 {
		return false
	}
	return to > from
}
