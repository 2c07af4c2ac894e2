package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*Route)(nil)
	_ driver.Valuer = Route(nil)
)

// scanJSONB scans a JSONB database value into a Go pointer. It handles nil
// values and the []byte and string representations different drivers use.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Route is the ordered list of waypoints stored in planned_trips.route_waypoints.
type Route []Waypoint

// Scan implements sql.Scanner. The receiver is reset first: json.Unmarshal
// reuses existing elements, which would leak fields from a previous row.
func (r *Route) Scan(value any) error {
	*r = nil
	return scanJSONB(r, value)
}

// Value implements driver.Valuer. A nil route is stored as an empty array
// so the NOT NULL column never sees SQL NULL.
func (r Route) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Waypoint(r))
}
