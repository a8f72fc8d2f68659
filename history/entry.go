package history

import (
	"time"

	"github.com/petal-labs/naligeo/geo"
)

// EntryFor builds the history entry for one Service.Lookup outcome.
func EntryFor(ip string, loc geo.Location, err error, elapsed time.Duration) Entry {
	entry := Entry{
		IP:      ip,
		Elapsed: elapsed,
		Time:    time.Now().UTC(),
	}
	if err != nil {
		entry.ErrorCode = geo.Code(err)
		if entry.ErrorCode == "" {
			entry.ErrorCode = geo.ErrorCodeCityLookupFailed
		}
		entry.Reason = geo.Reason(err)
		return entry
	}
	entry.Continent = loc.Continent
	entry.Country = loc.Country
	entry.City = loc.City
	return entry
}
