package salon

import "time"

// Client is a salon customer.
type Client struct {
	ID        string
	Name      string
	Phone     string
	BirthDate *time.Time
	// LastBirthdayNotificationYear prevents a second greeting in the same year.
	LastBirthdayNotificationYear *int
}

// IsBirthday reports whether day (in its own location) is the client's birthday.
// Feb 29 birthdays are celebrated on Feb 28 in non-leap years.
func (c *Client) IsBirthday(day time.Time) bool {
	if c.BirthDate == nil {
		return false
	}
	month, dom := c.BirthDate.Month(), c.BirthDate.Day()
	if month == time.February && dom == 29 && !isLeap(day.Year()) {
		dom = 28
	}
	return day.Month() == month && day.Day() == dom
}

// GreetedIn reports whether a birthday greeting was already sent in year.
func (c *Client) GreetedIn(year int) bool {
	return c.LastBirthdayNotificationYear != nil && *c.LastBirthdayNotificationYear == year
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
