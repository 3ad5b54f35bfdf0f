package models

// Tag is a catalogue label attached to reports, such as "trapped" or
// "gas-leak". EmergencyType, when set, ties the tag to one report type.
type Tag struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	EmergencyType ReportType `json:"emergency_type,omitempty"`
}

type TagStat struct {
	Tag
	Count int `json:"count"`
}
