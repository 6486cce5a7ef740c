// Package ics renders scheduling data as an iCalendar feed so events can be
// imported into external calendar clients.
package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"crmcal/internal/model"
)

const prodID = "-//crmcal//calendar//EN"

const (
	dateTimeLayout = "20060102T150405Z"
	dateLayout     = "20060102"
)

// Export serializes the given master events into a VCALENDAR payload.
// Recurring events are exported as a single VEVENT carrying the RRULE and
// EXDATE properties rather than as expanded instances, so the consuming
// client performs its own expansion.
func Export(masters []model.MasterEvent, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(prodID)

	for i := range masters {
		addVEvent(cal, &masters[i], now)
	}

	return cal.Serialize()
}

func addVEvent(cal *ical.Calendar, m *model.MasterEvent, now time.Time) {
	ev := cal.AddEvent(m.ID)
	ev.SetDtStampTime(now.UTC())
	ev.SetSummary(m.Title)

	if m.AllDay {
		ev.SetAllDayStartAt(m.Start)
		// DTEND on all-day events is exclusive in iCalendar.
		ev.SetAllDayEndAt(m.End.AddDate(0, 0, 1))
	} else {
		ev.SetStartAt(m.Start.UTC())
		ev.SetEndAt(m.End.UTC())
	}

	if m.Location != "" {
		ev.SetLocation(m.Location)
	}
	if m.Notes != "" {
		ev.SetDescription(m.Notes)
	}
	if m.Type.Valid() {
		ev.AddProperty(ical.ComponentPropertyCategories, strings.ToUpper(string(m.Type)))
	}

	if m.Recurring && m.RawRule != "" {
		ev.AddRrule(m.RawRule)
	}
	for _, ex := range m.ExcludedDates {
		// EXDATE entries carry the excluded instance's start time so clients
		// match the generated occurrence exactly.
		exAt := time.Date(ex.Year(), ex.Month(), ex.Day(),
			m.Start.Hour(), m.Start.Minute(), m.Start.Second(), 0, m.Start.Location())
		if m.AllDay {
			ev.AddExdate(exAt.Format(dateLayout))
		} else {
			ev.AddExdate(exAt.UTC().Format(dateTimeLayout))
		}
	}
}
