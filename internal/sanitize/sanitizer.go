package sanitize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"crashsync/internal/config"
	"crashsync/internal/models"
)

// Record is the common shape of a sanitized row: the natural key used
// for upserts and the event timestamp used to advance sync cursors.
type Record interface {
	NaturalKey() string
	EventTime() time.Time
}

// Outcome is the result of sanitizing one raw record. A non-empty
// RejectReason means the record must not be persisted; Warnings carry
// fields that were dropped while the record itself was kept.
type Outcome struct {
	Record       Record
	Warnings     []string
	RejectReason string
}

func (o Outcome) Rejected() bool {
	return o.RejectReason != ""
}

// Sanitizer cleans raw portal records into model structs. All methods
// are pure: no I/O, no shared state, safe for concurrent use.
type Sanitizer struct {
	bounds config.ValidationConfig
}

func NewSanitizer(bounds config.ValidationConfig) *Sanitizer {
	return &Sanitizer{bounds: bounds}
}

// ── Per-dataset sanitizers ──

// Crash sanitizes one record from the crashes dataset. A record
// without a crash_record_id cannot be keyed and is rejected.
func (s *Sanitizer) Crash(raw map[string]interface{}) Outcome {
	id := cleanString(raw["crash_record_id"])
	if id == "" {
		return Outcome{RejectReason: "missing crash_record_id"}
	}

	c := &models.Crash{CrashRecordID: id}
	var warnings []string

	c.CrashDate = parseTime(raw["crash_date"])
	if c.CrashDate == nil {
		warnings = append(warnings, "unparseable crash_date")
	}
	c.DatePoliceNotified = parseTime(raw["date_police_notified"])

	var latWarn, lonWarn string
	c.Latitude, latWarn = s.cleanLatitude(raw["latitude"])
	c.Longitude, lonWarn = s.cleanLongitude(raw["longitude"])
	if latWarn != "" {
		warnings = append(warnings, latWarn)
	}
	if lonWarn != "" {
		warnings = append(warnings, lonWarn)
	}
	c.Geom = pointWKT(c.Longitude, c.Latitude)

	c.PostedSpeedLimit = cleanInt(raw["posted_speed_limit"])
	c.StreetNo = cleanInt(raw["street_no"])
	c.LaneCnt = cleanInt(raw["lane_cnt"])

	c.InjuriesTotal = cleanInt(raw["injuries_total"])
	c.InjuriesFatal = cleanInt(raw["injuries_fatal"])
	c.InjuriesIncapacitating = cleanInt(raw["injuries_incapacitating"])
	c.InjuriesNonIncapacitating = cleanInt(raw["injuries_non_incapacitating"])
	c.InjuriesReportedNotEvident = cleanInt(raw["injuries_reported_not_evident"])
	c.InjuriesNoIndication = cleanInt(raw["injuries_no_indication"])
	c.InjuriesUnknown = cleanInt(raw["injuries_unknown"])

	c.TrafficControlDevice = cleanString(raw["traffic_control_device"])
	c.DeviceCondition = cleanString(raw["device_condition"])
	c.WeatherCondition = cleanString(raw["weather_condition"])
	c.LightingCondition = cleanString(raw["lighting_condition"])
	c.StreetDirection = cleanString(raw["street_direction"])
	c.StreetName = cleanString(raw["street_name"])
	c.CrashType = cleanString(raw["crash_type"])
	c.Damage = cleanString(raw["damage"])
	c.PrimContributoryCause = cleanString(raw["prim_contributory_cause"])
	c.SecContributoryCause = cleanString(raw["sec_contributory_cause"])
	c.RoadwaySurfaceCond = cleanString(raw["roadway_surface_cond"])
	c.RoadDefect = cleanString(raw["road_defect"])
	c.ReportType = cleanString(raw["report_type"])
	c.MostSevereInjury = cleanString(raw["most_severe_injury"])
	c.HitAndRunI = cleanString(raw["hit_and_run_i"])
	c.IntersectionRelatedI = cleanString(raw["intersection_related_i"])
	c.WorkZoneI = cleanString(raw["work_zone_i"])
	c.DooringI = cleanString(raw["dooring_i"])

	return Outcome{Record: c, Warnings: warnings}
}

// Person sanitizes one record from the people dataset. Both halves of
// the composite key must be present.
func (s *Sanitizer) Person(raw map[string]interface{}) Outcome {
	crashID := cleanString(raw["crash_record_id"])
	personID := cleanString(raw["person_id"])
	if crashID == "" {
		return Outcome{RejectReason: "missing crash_record_id"}
	}
	if personID == "" {
		return Outcome{RejectReason: "missing person_id"}
	}

	p := &models.CrashPerson{CrashRecordID: crashID, PersonID: personID}
	var warnings []string

	p.CrashDate = parseTime(raw["crash_date"])

	var ageWarn string
	p.Age, ageWarn = s.cleanAge(raw["age"])
	if ageWarn != "" {
		warnings = append(warnings, ageWarn)
	}

	p.PersonType = cleanString(raw["person_type"])
	p.Sex = cleanString(raw["sex"])
	p.SafetyEquipment = cleanString(raw["safety_equipment"])
	p.AirbagDeployed = cleanString(raw["airbag_deployed"])
	p.Ejection = cleanString(raw["ejection"])
	p.InjuryClassification = cleanString(raw["injury_classification"])
	p.Hospital = cleanString(raw["hospital"])
	p.PhysicalCondition = cleanString(raw["physical_condition"])
	p.DriversLicenseState = cleanString(raw["drivers_license_state"])
	p.BACResult = cleanString(raw["bac_result"])
	p.BACResultValue = cleanFloat(raw["bac_result_value"])
	p.CellPhoneUse = cleanString(raw["cell_phone_use"])

	return Outcome{Record: p, Warnings: warnings}
}

// Vehicle sanitizes one record from the vehicles dataset, keyed by
// (crash_record_id, unit_no).
func (s *Sanitizer) Vehicle(raw map[string]interface{}) Outcome {
	crashID := cleanString(raw["crash_record_id"])
	unitNo := cleanString(raw["unit_no"])
	if crashID == "" {
		return Outcome{RejectReason: "missing crash_record_id"}
	}
	if unitNo == "" {
		return Outcome{RejectReason: "missing unit_no"}
	}

	v := &models.CrashVehicle{CrashRecordID: crashID, UnitNo: unitNo}
	var warnings []string

	v.CrashDate = parseTime(raw["crash_date"])

	var yearWarn string
	v.VehicleYear, yearWarn = s.cleanVehicleYear(raw["vehicle_year"])
	if yearWarn != "" {
		warnings = append(warnings, yearWarn)
	}

	v.NumPassengers = cleanInt(raw["num_passengers"])
	v.OccupantCnt = cleanInt(raw["occupant_cnt"])

	v.UnitType = cleanString(raw["unit_type"])
	v.VehicleID = cleanString(raw["vehicle_id"])
	v.Make = cleanString(raw["make"])
	v.Model = cleanString(raw["model"])
	v.LicPlateState = cleanString(raw["lic_plate_state"])
	v.VehicleDefect = cleanString(raw["vehicle_defect"])
	v.VehicleType = cleanString(raw["vehicle_type"])
	v.VehicleUse = cleanString(raw["vehicle_use"])
	v.TravelDirection = cleanString(raw["travel_direction"])
	v.Maneuver = cleanString(raw["maneuver"])
	v.TowedI = cleanString(raw["towed_i"])
	v.FireI = cleanString(raw["fire_i"])
	v.FirstContactPoint = cleanString(raw["first_contact_point"])

	return Outcome{Record: v, Warnings: warnings}
}

// Fatality sanitizes one record from the Vision Zero fatalities
// dataset, keyed by person_id.
func (s *Sanitizer) Fatality(raw map[string]interface{}) Outcome {
	personID := cleanString(raw["person_id"])
	if personID == "" {
		return Outcome{RejectReason: "missing person_id"}
	}

	f := &models.VisionZeroFatality{PersonID: personID}
	var warnings []string

	f.RdNo = cleanString(raw["rd_no"])
	f.CrashDate = parseTime(raw["crash_date"])

	var latWarn, lonWarn string
	f.Latitude, latWarn = s.cleanLatitude(raw["latitude"])
	f.Longitude, lonWarn = s.cleanLongitude(raw["longitude"])
	if latWarn != "" {
		warnings = append(warnings, latWarn)
	}
	if lonWarn != "" {
		warnings = append(warnings, lonWarn)
	}
	f.Geom = pointWKT(f.Longitude, f.Latitude)

	f.CrashLocation = cleanString(raw["crash_location"])
	f.CrashCircumstances = cleanString(raw["crash_circumstances"])
	f.Victim = cleanString(raw["victim"])

	return Outcome{Record: f, Warnings: warnings}
}

// Dedupe collapses records sharing a natural key, keeping the last
// occurrence. Pages from the portal occasionally repeat rows at page
// boundaries, and the later copy is the fresher one.
func Dedupe(records []Record) ([]Record, int) {
	if len(records) == 0 {
		return records, 0
	}
	index := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	dropped := 0
	for _, r := range records {
		key := r.NaturalKey()
		if pos, ok := index[key]; ok {
			out[pos] = r
			dropped++
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}
	return out, dropped
}

// ── Field cleaners ──

var nullMarkers = map[string]struct{}{
	"NULL": {}, "N/A": {}, "UNKNOWN": {}, "UNK": {},
}

// cleanString trims, collapses interior whitespace, and maps the
// portal's null markers to the empty string.
func cleanString(v interface{}) string {
	if v == nil {
		return ""
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" {
		return ""
	}
	if _, ok := nullMarkers[strings.ToUpper(s)]; ok {
		return ""
	}
	return strings.Join(strings.Fields(s), " ")
}

// cleanInt accepts numbers and numeric strings, including float forms
// like "1.0" that the portal emits for integer columns.
func cleanInt(v interface{}) *int {
	f := cleanFloat(v)
	if f == nil {
		return nil
	}
	n := int(*f)
	return &n
}

func cleanFloat(v interface{}) *float64 {
	switch val := v.(type) {
	case nil:
		return nil
	case float64:
		f := val
		return &f
	case float32:
		f := float64(val)
		return &f
	case int:
		f := float64(val)
		return &f
	case int64:
		f := float64(val)
		return &f
	case string:
		s := cleanString(val)
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}

// timeLayouts covers the formats the portal has been observed to emit,
// most common first.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 03:04:05 PM",
	"01/02/2006",
}

func parseTime(v interface{}) *time.Time {
	if v == nil {
		return nil
	}
	if t, ok := v.(time.Time); ok {
		return &t
	}
	s := strings.TrimSpace(fmt.Sprintf("%v", v))
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// ── Bounds checks ──

func (s *Sanitizer) cleanLatitude(v interface{}) (*float64, string) {
	lat := cleanFloat(v)
	if lat == nil {
		return nil, ""
	}
	if *lat < s.bounds.MinLatitude || *lat > s.bounds.MaxLatitude {
		return nil, fmt.Sprintf("latitude %.6f outside bounds [%.2f, %.2f]",
			*lat, s.bounds.MinLatitude, s.bounds.MaxLatitude)
	}
	return lat, ""
}

func (s *Sanitizer) cleanLongitude(v interface{}) (*float64, string) {
	lon := cleanFloat(v)
	if lon == nil {
		return nil, ""
	}
	if *lon < s.bounds.MinLongitude || *lon > s.bounds.MaxLongitude {
		return nil, fmt.Sprintf("longitude %.6f outside bounds [%.2f, %.2f]",
			*lon, s.bounds.MinLongitude, s.bounds.MaxLongitude)
	}
	return lon, ""
}

func (s *Sanitizer) cleanAge(v interface{}) (*int, string) {
	age := cleanInt(v)
	if age == nil {
		return nil, ""
	}
	if *age < s.bounds.MinAge || *age > s.bounds.MaxAge {
		return nil, fmt.Sprintf("age %d outside range [%d, %d]",
			*age, s.bounds.MinAge, s.bounds.MaxAge)
	}
	return age, ""
}

func (s *Sanitizer) cleanVehicleYear(v interface{}) (*int, string) {
	year := cleanInt(v)
	if year == nil {
		return nil, ""
	}
	if *year < s.bounds.MinVehicleYear || *year > s.bounds.MaxVehicleYear {
		return nil, fmt.Sprintf("vehicle_year %d outside range [%d, %d]",
			*year, s.bounds.MinVehicleYear, s.bounds.MaxVehicleYear)
	}
	return year, ""
}

// pointWKT builds a WKT point when both coordinates survived the
// bounds check; nil otherwise so the row persists without geometry.
func pointWKT(lon, lat *float64) *string {
	if lon == nil || lat == nil {
		return nil
	}
	wkt := fmt.Sprintf("POINT(%f %f)", *lon, *lat)
	return &wkt
}
