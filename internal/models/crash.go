package models

import "time"

// Crash maps to the `crashes` table. One row per reported collision,
// keyed by the portal's crash_record_id.
type Crash struct {
	CrashRecordID string     `gorm:"column:crash_record_id;primaryKey;size:128" json:"crash_record_id"`
	CrashDate     *time.Time `gorm:"column:crash_date;index" json:"crash_date"`
	Latitude      *float64   `gorm:"column:latitude" json:"latitude"`
	Longitude     *float64   `gorm:"column:longitude" json:"longitude"`
	// Geom holds the WKT point when both coordinates passed the bounds
	// check; nil means the record was kept without geometry.
	Geom *string `gorm:"column:geom;size:128" json:"geom"`

	PostedSpeedLimit *int `gorm:"column:posted_speed_limit" json:"posted_speed_limit"`
	StreetNo         *int `gorm:"column:street_no" json:"street_no"`
	LaneCnt          *int `gorm:"column:lane_cnt" json:"lane_cnt"`

	InjuriesTotal              *int `gorm:"column:injuries_total" json:"injuries_total"`
	InjuriesFatal              *int `gorm:"column:injuries_fatal" json:"injuries_fatal"`
	InjuriesIncapacitating     *int `gorm:"column:injuries_incapacitating" json:"injuries_incapacitating"`
	InjuriesNonIncapacitating  *int `gorm:"column:injuries_non_incapacitating" json:"injuries_non_incapacitating"`
	InjuriesReportedNotEvident *int `gorm:"column:injuries_reported_not_evident" json:"injuries_reported_not_evident"`
	InjuriesNoIndication       *int `gorm:"column:injuries_no_indication" json:"injuries_no_indication"`
	InjuriesUnknown            *int `gorm:"column:injuries_unknown" json:"injuries_unknown"`

	TrafficControlDevice  string `gorm:"column:traffic_control_device;size:100" json:"traffic_control_device"`
	DeviceCondition       string `gorm:"column:device_condition;size:100" json:"device_condition"`
	WeatherCondition      string `gorm:"column:weather_condition;size:100" json:"weather_condition"`
	LightingCondition     string `gorm:"column:lighting_condition;size:100" json:"lighting_condition"`
	StreetDirection       string `gorm:"column:street_direction;size:20" json:"street_direction"`
	StreetName            string `gorm:"column:street_name;size:255" json:"street_name"`
	CrashType             string `gorm:"column:crash_type;size:100" json:"crash_type"`
	Damage                string `gorm:"column:damage;size:100" json:"damage"`
	PrimContributoryCause string `gorm:"column:prim_contributory_cause;size:255" json:"prim_contributory_cause"`
	SecContributoryCause  string `gorm:"column:sec_contributory_cause;size:255" json:"sec_contributory_cause"`
	RoadwaySurfaceCond    string `gorm:"column:roadway_surface_cond;size:100" json:"roadway_surface_cond"`
	RoadDefect            string `gorm:"column:road_defect;size:100" json:"road_defect"`
	ReportType            string `gorm:"column:report_type;size:100" json:"report_type"`
	MostSevereInjury      string `gorm:"column:most_severe_injury;size:100" json:"most_severe_injury"`
	HitAndRunI            string `gorm:"column:hit_and_run_i;size:10" json:"hit_and_run_i"`
	IntersectionRelatedI  string `gorm:"column:intersection_related_i;size:10" json:"intersection_related_i"`
	WorkZoneI             string `gorm:"column:work_zone_i;size:10" json:"work_zone_i"`
	DooringI              string `gorm:"column:dooring_i;size:10" json:"dooring_i"`

	DatePoliceNotified *time.Time `gorm:"column:date_police_notified" json:"date_police_notified"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Crash) TableName() string {
	return "crashes"
}

func (c *Crash) NaturalKey() string {
	return c.CrashRecordID
}

func (c *Crash) EventTime() time.Time {
	if c.CrashDate == nil {
		return time.Time{}
	}
	return *c.CrashDate
}

// CrashPerson maps to the `crash_people` table.
type CrashPerson struct {
	CrashRecordID string `gorm:"column:crash_record_id;primaryKey;size:128" json:"crash_record_id"`
	PersonID      string `gorm:"column:person_id;primaryKey;size:64" json:"person_id"`

	CrashDate *time.Time `gorm:"column:crash_date;index" json:"crash_date"`
	Age       *int       `gorm:"column:age" json:"age"`

	PersonType           string   `gorm:"column:person_type;size:50" json:"person_type"`
	Sex                  string   `gorm:"column:sex;size:10" json:"sex"`
	SafetyEquipment      string   `gorm:"column:safety_equipment;size:100" json:"safety_equipment"`
	AirbagDeployed       string   `gorm:"column:airbag_deployed;size:100" json:"airbag_deployed"`
	Ejection             string   `gorm:"column:ejection;size:100" json:"ejection"`
	InjuryClassification string   `gorm:"column:injury_classification;size:100" json:"injury_classification"`
	Hospital             string   `gorm:"column:hospital;size:255" json:"hospital"`
	PhysicalCondition    string   `gorm:"column:physical_condition;size:100" json:"physical_condition"`
	DriversLicenseState  string   `gorm:"column:drivers_license_state;size:10" json:"drivers_license_state"`
	BACResult            string   `gorm:"column:bac_result;size:50" json:"bac_result"`
	BACResultValue       *float64 `gorm:"column:bac_result_value" json:"bac_result_value"`
	CellPhoneUse         string   `gorm:"column:cell_phone_use;size:10" json:"cell_phone_use"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CrashPerson) TableName() string {
	return "crash_people"
}

func (p *CrashPerson) NaturalKey() string {
	return p.CrashRecordID + "/" + p.PersonID
}

func (p *CrashPerson) EventTime() time.Time {
	if p.CrashDate == nil {
		return time.Time{}
	}
	return *p.CrashDate
}

// CrashVehicle maps to the `crash_vehicles` table. Units are keyed by
// (crash_record_id, unit_no) since unit numbers repeat across crashes.
type CrashVehicle struct {
	CrashRecordID string `gorm:"column:crash_record_id;primaryKey;size:128" json:"crash_record_id"`
	UnitNo        string `gorm:"column:unit_no;primaryKey;size:20" json:"unit_no"`

	CrashDate     *time.Time `gorm:"column:crash_date;index" json:"crash_date"`
	VehicleYear   *int       `gorm:"column:vehicle_year" json:"vehicle_year"`
	NumPassengers *int       `gorm:"column:num_passengers" json:"num_passengers"`
	OccupantCnt   *int       `gorm:"column:occupant_cnt" json:"occupant_cnt"`

	UnitType          string `gorm:"column:unit_type;size:50" json:"unit_type"`
	VehicleID         string `gorm:"column:vehicle_id;size:64" json:"vehicle_id"`
	Make              string `gorm:"column:make;size:100" json:"make"`
	Model             string `gorm:"column:model;size:100" json:"model"`
	LicPlateState     string `gorm:"column:lic_plate_state;size:10" json:"lic_plate_state"`
	VehicleDefect     string `gorm:"column:vehicle_defect;size:100" json:"vehicle_defect"`
	VehicleType       string `gorm:"column:vehicle_type;size:100" json:"vehicle_type"`
	VehicleUse        string `gorm:"column:vehicle_use;size:100" json:"vehicle_use"`
	TravelDirection   string `gorm:"column:travel_direction;size:20" json:"travel_direction"`
	Maneuver          string `gorm:"column:maneuver;size:100" json:"maneuver"`
	TowedI            string `gorm:"column:towed_i;size:10" json:"towed_i"`
	FireI             string `gorm:"column:fire_i;size:10" json:"fire_i"`
	FirstContactPoint string `gorm:"column:first_contact_point;size:100" json:"first_contact_point"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CrashVehicle) TableName() string {
	return "crash_vehicles"
}

func (v *CrashVehicle) NaturalKey() string {
	return v.CrashRecordID + "/" + v.UnitNo
}

func (v *CrashVehicle) EventTime() time.Time {
	if v.CrashDate == nil {
		return time.Time{}
	}
	return *v.CrashDate
}

// VisionZeroFatality maps to the `vision_zero_fatalities` table.
type VisionZeroFatality struct {
	PersonID string `gorm:"column:person_id;primaryKey;size:64" json:"person_id"`

	RdNo      string     `gorm:"column:rd_no;size:64;index" json:"rd_no"`
	CrashDate *time.Time `gorm:"column:crash_date;index" json:"crash_date"`
	Latitude  *float64   `gorm:"column:latitude" json:"latitude"`
	Longitude *float64   `gorm:"column:longitude" json:"longitude"`
	Geom      *string    `gorm:"column:geom;size:128" json:"geom"`

	CrashLocation      string `gorm:"column:crash_location;type:text" json:"crash_location"`
	CrashCircumstances string `gorm:"column:crash_circumstances;type:text" json:"crash_circumstances"`
	Victim             string `gorm:"column:victim;size:100" json:"victim"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (VisionZeroFatality) TableName() string {
	return "vision_zero_fatalities"
}

func (f *VisionZeroFatality) NaturalKey() string {
	return f.PersonID
}

func (f *VisionZeroFatality) EventTime() time.Time {
	if f.CrashDate == nil {
		return time.Time{}
	}
	return *f.CrashDate
}
