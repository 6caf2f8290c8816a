package dataset

import "strings"

// Family is a metric family prefix as it appears in source column names.
type Family string

// Metric families in display order.
const (
	VMT Family = "VMT"
	VHT Family = "VHT"
	VOC Family = "VOC"
	NOX Family = "NOX"
	CO  Family = "CO"
	CO2 Family = "CO2"
)

// Families lists every metric family in display order.
var Families = []Family{VMT, VHT, VOC, NOX, CO, CO2}

// Class is a vehicle class.
type Class string

// Vehicle classes in display order.
const (
	SOV Class = "SOV"
	HOV Class = "HOV"
	TRK Class = "TRK"
)

// Classes lists the vehicle classes in display order.
var Classes = []Class{SOV, HOV, TRK}

// Period is a time-of-day period.
type Period string

// Time-of-day periods in display order.
const (
	AM Period = "AM"
	MD Period = "MD"
	PM Period = "PM"
	NT Period = "NT"
)

// Periods lists the time-of-day periods in display order.
var Periods = []Period{AM, MD, PM, NT}

const (
	// IDField carries the municipality id in both tabular and geometry sources.
	IDField = "TOWN_ID"
	// NameField carries the upper-case municipality name.
	NameField = "TOWN"
)

var classLabels = map[Class]string{
	SOV: "Single Occupant Vehicles",
	HOV: "High Occupant Vehicles",
	TRK: "Trucks",
}

var periodLabels = map[Period]string{
	AM: "6AM-9AM",
	MD: "9AM-3PM",
	PM: "3PM-6PM",
	NT: "6PM-6AM",
}

// Label returns the table row title for the class.
func (c Class) Label() string { return classLabels[c] }

// Label returns the table column header for the period.
func (p Period) Label() string { return periodLabels[p] }

// Field returns the column name for one class/period cell, e.g. VMT_SOV_AM.
func (f Family) Field(c Class, p Period) string {
	return string(f) + "_" + string(c) + "_" + string(p)
}

// TotalField returns the daily total column name, e.g. VMT_TOTAL.
func (f Family) TotalField() string {
	return string(f) + "_TOTAL"
}

// ParseFamily resolves a family prefix case-insensitively.
func ParseFamily(s string) (Family, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, f := range Families {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// splitField reverses Field/TotalField. ok is false for unrelated columns.
func splitField(name string) (f Family, c Class, p Period, total bool, ok bool) {
	for _, fam := range Families {
		if name == fam.TotalField() {
			return fam, "", "", true, true
		}
		for _, cl := range Classes {
			for _, pe := range Periods {
				if name == fam.Field(cl, pe) {
					return fam, cl, pe, false, true
				}
			}
		}
	}
	return "", "", "", false, false
}
