package profile

import bt "example.com/fitgate/internal/basetype"

// Field numbers used by the edit transforms.
const (
	RecordPositionLat      uint8 = 0
	RecordPositionLong     uint8 = 1
	RecordAltitude         uint8 = 2
	RecordHeartRate        uint8 = 3
	RecordCadence          uint8 = 4
	RecordDistance         uint8 = 5
	RecordSpeed            uint8 = 6
	RecordPower            uint8 = 7
	RecordEnhancedSpeed    uint8 = 73
	RecordEnhancedAltitude uint8 = 78

	LapEvent            uint8 = 0
	LapEventType        uint8 = 1
	LapStartTime        uint8 = 2
	LapStartPositionLat uint8 = 3
	LapStartPositionLon uint8 = 4
	LapEndPositionLat   uint8 = 5
	LapEndPositionLon   uint8 = 6
	LapTotalElapsedTime uint8 = 7
	LapTotalTimerTime   uint8 = 8
	LapTotalDistance    uint8 = 9
	LapTotalCycles      uint8 = 10
	LapTotalCalories    uint8 = 11
	LapAvgSpeed         uint8 = 13
	LapMaxSpeed         uint8 = 14
	LapAvgHeartRate     uint8 = 15
	LapMaxHeartRate     uint8 = 16
	LapAvgCadence       uint8 = 17
	LapMaxCadence       uint8 = 18
	LapAvgPower         uint8 = 19
	LapMaxPower         uint8 = 20
	LapTotalAscent      uint8 = 21
	LapTotalDescent     uint8 = 22
	LapTrigger          uint8 = 24
	LapAvgAltitude      uint8 = 42
	LapMaxAltitude      uint8 = 43
	LapMinAltitude      uint8 = 62
	LapMinHeartRate     uint8 = 63

	SessionStartTime        uint8 = 2
	SessionSport            uint8 = 5
	SessionTotalElapsedTime uint8 = 7
	SessionTotalTimerTime   uint8 = 8
	SessionTotalDistance    uint8 = 9
	SessionNumLaps          uint8 = 26

	EventEvent     uint8 = 0
	EventEventType uint8 = 1
	EventData16    uint8 = 2
	EventData      uint8 = 3

	FileIDType        uint8 = 0
	FileIDTimeCreated uint8 = 4
)

// Event and event type enum values.
const (
	EventTimer    = 0
	EventSession  = 8
	EventLap      = 9
	EventActivity = 26

	EventTypeStart    = 0
	EventTypeStop     = 1
	EventTypeMarker   = 3
	EventTypeStopAll  = 4
	LapTriggerManual  = 0
	LapTriggerSession = 7
)

func fd(num uint8, name string, t bt.Type, scale, offset float64, units, prof string) FieldDescriptor {
	return FieldDescriptor{Num: num, Name: name, Type: t, Scale: scale, Offset: offset, Units: units, Profile: prof}
}

func acc(f FieldDescriptor) FieldDescriptor {
	f.Accumulated = true
	return f
}

var (
	timestampField    = fd(FieldTimestamp, "timestamp", bt.Uint32, 1, 0, "s", "date_time")
	messageIndexField = fd(FieldMessageIndex, "message_index", bt.Uint16, 1, 0, "", "message_index")
)

func standardMessages() []MessageDescriptor {
	return []MessageDescriptor{
		{Num: MesgFileID, Name: "file_id", Fields: []FieldDescriptor{
			fd(0, "type", bt.Enum, 1, 0, "", "file"),
			fd(1, "manufacturer", bt.Uint16, 1, 0, "", "manufacturer"),
			fd(2, "product", bt.Uint16, 1, 0, "", ""),
			fd(3, "serial_number", bt.Uint32z, 1, 0, "", ""),
			fd(4, "time_created", bt.Uint32, 1, 0, "s", "date_time"),
			fd(5, "number", bt.Uint16, 1, 0, "", ""),
			fd(8, "product_name", bt.String, 1, 0, "", ""),
		}},
		{Num: MesgUserProfile, Name: "user_profile", Fields: []FieldDescriptor{
			messageIndexField,
			fd(0, "friendly_name", bt.String, 1, 0, "", ""),
			fd(1, "gender", bt.Enum, 1, 0, "", "gender"),
			fd(2, "age", bt.Uint8, 1, 0, "years", ""),
			fd(3, "height", bt.Uint8, 100, 0, "m", ""),
			fd(4, "weight", bt.Uint16, 10, 0, "kg", ""),
			fd(8, "resting_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
			fd(11, "default_max_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
		}},
		{Num: MesgZonesTarget, Name: "zones_target", Fields: []FieldDescriptor{
			fd(1, "max_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
			fd(2, "threshold_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
			fd(3, "functional_threshold_power", bt.Uint16, 1, 0, "watts", ""),
			fd(5, "hr_calc_type", bt.Enum, 1, 0, "", "hr_zone_calc"),
			fd(7, "pwr_calc_type", bt.Enum, 1, 0, "", "pwr_zone_calc"),
		}},
		{Num: MesgSport, Name: "sport", Fields: []FieldDescriptor{
			fd(0, "sport", bt.Enum, 1, 0, "", "sport"),
			fd(1, "sub_sport", bt.Enum, 1, 0, "", "sub_sport"),
			fd(3, "name", bt.String, 1, 0, "", ""),
		}},
		{Num: MesgSession, Name: "session", Fields: []FieldDescriptor{
			messageIndexField,
			timestampField,
			fd(0, "event", bt.Enum, 1, 0, "", "event"),
			fd(1, "event_type", bt.Enum, 1, 0, "", "event_type"),
			fd(2, "start_time", bt.Uint32, 1, 0, "s", "date_time"),
			fd(3, "start_position_lat", bt.Sint32, 1, 0, "semicircles", ""),
			fd(4, "start_position_long", bt.Sint32, 1, 0, "semicircles", ""),
			fd(5, "sport", bt.Enum, 1, 0, "", "sport"),
			fd(6, "sub_sport", bt.Enum, 1, 0, "", "sub_sport"),
			fd(7, "total_elapsed_time", bt.Uint32, 1000, 0, "s", ""),
			fd(8, "total_timer_time", bt.Uint32, 1000, 0, "s", ""),
			fd(9, "total_distance", bt.Uint32, 100, 0, "m", ""),
			fd(10, "total_cycles", bt.Uint32, 1, 0, "cycles", ""),
			fd(11, "total_calories", bt.Uint16, 1, 0, "kcal", ""),
			fd(14, "avg_speed", bt.Uint16, 1000, 0, "m/s", ""),
			fd(15, "max_speed", bt.Uint16, 1000, 0, "m/s", ""),
			fd(16, "avg_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
			fd(17, "max_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
			fd(18, "avg_cadence", bt.Uint8, 1, 0, "rpm", ""),
			fd(19, "max_cadence", bt.Uint8, 1, 0, "rpm", ""),
			fd(20, "avg_power", bt.Uint16, 1, 0, "watts", ""),
			fd(21, "max_power", bt.Uint16, 1, 0, "watts", ""),
			fd(22, "total_ascent", bt.Uint16, 1, 0, "m", ""),
			fd(23, "total_descent", bt.Uint16, 1, 0, "m", ""),
			fd(25, "first_lap_index", bt.Uint16, 1, 0, "", ""),
			fd(26, "num_laps", bt.Uint16, 1, 0, "", ""),
			fd(28, "trigger", bt.Enum, 1, 0, "", "session_trigger"),
			fd(49, "avg_altitude", bt.Uint16, 5, 500, "m", ""),
			fd(50, "max_altitude", bt.Uint16, 5, 500, "m", ""),
			fd(64, "min_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
			fd(71, "min_altitude", bt.Uint16, 5, 500, "m", ""),
		}},
		{Num: MesgLap, Name: "lap", Fields: []FieldDescriptor{
			messageIndexField,
			timestampField,
			fd(LapEvent, "event", bt.Enum, 1, 0, "", "event"),
			fd(LapEventType, "event_type", bt.Enum, 1, 0, "", "event_type"),
			fd(LapStartTime, "start_time", bt.Uint32, 1, 0, "s", "date_time"),
			fd(LapStartPositionLat, "start_position_lat", bt.Sint32, 1, 0, "semicircles", ""),
			fd(LapStartPositionLon, "start_position_long", bt.Sint32, 1, 0, "semicircles", ""),
			fd(LapEndPositionLat, "end_position_lat", bt.Sint32, 1, 0, "semicircles", ""),
			fd(LapEndPositionLon, "end_position_long", bt.Sint32, 1, 0, "semicircles", ""),
			fd(LapTotalElapsedTime, "total_elapsed_time", bt.Uint32, 1000, 0, "s", ""),
			fd(LapTotalTimerTime, "total_timer_time", bt.Uint32, 1000, 0, "s", ""),
			fd(LapTotalDistance, "total_distance", bt.Uint32, 100, 0, "m", ""),
			fd(LapTotalCycles, "total_cycles", bt.Uint32, 1, 0, "cycles", ""),
			fd(LapTotalCalories, "total_calories", bt.Uint16, 1, 0, "kcal", ""),
			fd(LapAvgSpeed, "avg_speed", bt.Uint16, 1000, 0, "m/s", ""),
			fd(LapMaxSpeed, "max_speed", bt.Uint16, 1000, 0, "m/s", ""),
			fd(LapAvgHeartRate, "avg_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
			fd(LapMaxHeartRate, "max_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
			fd(LapAvgCadence, "avg_cadence", bt.Uint8, 1, 0, "rpm", ""),
			fd(LapMaxCadence, "max_cadence", bt.Uint8, 1, 0, "rpm", ""),
			fd(LapAvgPower, "avg_power", bt.Uint16, 1, 0, "watts", ""),
			fd(LapMaxPower, "max_power", bt.Uint16, 1, 0, "watts", ""),
			fd(LapTotalAscent, "total_ascent", bt.Uint16, 1, 0, "m", ""),
			fd(LapTotalDescent, "total_descent", bt.Uint16, 1, 0, "m", ""),
			fd(LapTrigger, "lap_trigger", bt.Enum, 1, 0, "", "lap_trigger"),
			fd(25, "sport", bt.Enum, 1, 0, "", "sport"),
			fd(LapAvgAltitude, "avg_altitude", bt.Uint16, 5, 500, "m", ""),
			fd(LapMaxAltitude, "max_altitude", bt.Uint16, 5, 500, "m", ""),
			fd(LapMinAltitude, "min_altitude", bt.Uint16, 5, 500, "m", ""),
			fd(LapMinHeartRate, "min_heart_rate", bt.Uint8, 1, 0, "bpm", ""),
		}},
		{Num: MesgRecord, Name: "record", Fields: []FieldDescriptor{
			timestampField,
			fd(RecordPositionLat, "position_lat", bt.Sint32, 1, 0, "semicircles", ""),
			fd(RecordPositionLong, "position_long", bt.Sint32, 1, 0, "semicircles", ""),
			fd(RecordAltitude, "altitude", bt.Uint16, 5, 500, "m", ""),
			fd(RecordHeartRate, "heart_rate", bt.Uint8, 1, 0, "bpm", ""),
			fd(RecordCadence, "cadence", bt.Uint8, 1, 0, "rpm", ""),
			acc(fd(RecordDistance, "distance", bt.Uint32, 100, 0, "m", "")),
			fd(RecordSpeed, "speed", bt.Uint16, 1000, 0, "m/s", ""),
			fd(RecordPower, "power", bt.Uint16, 1, 0, "watts", ""),
			fd(9, "grade", bt.Sint16, 100, 0, "%", ""),
			fd(13, "temperature", bt.Sint8, 1, 0, "C", ""),
			acc(fd(18, "cycles", bt.Uint8, 1, 0, "cycles", "")),
			acc(fd(19, "total_cycles", bt.Uint32, 1, 0, "cycles", "")),
			acc(fd(29, "accumulated_power", bt.Uint32, 1, 0, "watts", "")),
			fd(30, "left_right_balance", bt.Uint8, 1, 0, "", "left_right_balance"),
			fd(RecordEnhancedSpeed, "enhanced_speed", bt.Uint32, 1000, 0, "m/s", ""),
			fd(RecordEnhancedAltitude, "enhanced_altitude", bt.Uint32, 5, 500, "m", ""),
		}},
		{Num: MesgEvent, Name: "event", Fields: []FieldDescriptor{
			timestampField,
			fd(EventEvent, "event", bt.Enum, 1, 0, "", "event"),
			fd(EventEventType, "event_type", bt.Enum, 1, 0, "", "event_type"),
			fd(EventData16, "data16", bt.Uint16, 1, 0, "", ""),
			fd(EventData, "data", bt.Uint32, 1, 0, "", ""),
			fd(4, "event_group", bt.Uint8, 1, 0, "", ""),
		}},
		{Num: MesgDeviceInfo, Name: "device_info", Fields: []FieldDescriptor{
			timestampField,
			fd(0, "device_index", bt.Uint8, 1, 0, "", "device_index"),
			fd(1, "device_type", bt.Uint8, 1, 0, "", ""),
			fd(2, "manufacturer", bt.Uint16, 1, 0, "", "manufacturer"),
			fd(3, "serial_number", bt.Uint32z, 1, 0, "", ""),
			fd(4, "product", bt.Uint16, 1, 0, "", ""),
			fd(5, "software_version", bt.Uint16, 100, 0, "", ""),
			fd(6, "hardware_version", bt.Uint8, 1, 0, "", ""),
			fd(10, "battery_voltage", bt.Uint16, 256, 0, "V", ""),
			fd(11, "battery_status", bt.Uint8, 1, 0, "", "battery_status"),
			fd(27, "product_name", bt.String, 1, 0, "", ""),
		}},
		{Num: MesgActivity, Name: "activity", Fields: []FieldDescriptor{
			timestampField,
			fd(0, "total_timer_time", bt.Uint32, 1000, 0, "s", ""),
			fd(1, "num_sessions", bt.Uint16, 1, 0, "", ""),
			fd(2, "type", bt.Enum, 1, 0, "", "activity"),
			fd(3, "event", bt.Enum, 1, 0, "", "event"),
			fd(4, "event_type", bt.Enum, 1, 0, "", "event_type"),
			fd(5, "local_timestamp", bt.Uint32, 1, 0, "s", "local_date_time"),
			fd(6, "event_group", bt.Uint8, 1, 0, "", ""),
		}},
		{Num: MesgFileCreator, Name: "file_creator", Fields: []FieldDescriptor{
			fd(0, "software_version", bt.Uint16, 1, 0, "", ""),
			fd(1, "hardware_version", bt.Uint8, 1, 0, "", ""),
		}},
		{Num: MesgHRV, Name: "hrv", Fields: []FieldDescriptor{
			fd(0, "time", bt.Uint16, 1000, 0, "s", ""),
		}},
		{Num: MesgFieldDescription, Name: "field_description", Fields: []FieldDescriptor{
			fd(0, "developer_data_index", bt.Uint8, 1, 0, "", ""),
			fd(1, "field_definition_number", bt.Uint8, 1, 0, "", ""),
			fd(2, "fit_base_type_id", bt.Uint8, 1, 0, "", "fit_base_type"),
			fd(3, "field_name", bt.String, 1, 0, "", ""),
			fd(6, "scale", bt.Uint8, 1, 0, "", ""),
			fd(7, "offset", bt.Sint8, 1, 0, "", ""),
			fd(8, "units", bt.String, 1, 0, "", ""),
			fd(14, "native_mesg_num", bt.Uint16, 1, 0, "", "mesg_num"),
			fd(15, "native_field_num", bt.Uint8, 1, 0, "", ""),
		}},
		{Num: MesgDeveloperDataID, Name: "developer_data_id", Fields: []FieldDescriptor{
			fd(0, "developer_id", bt.Byte, 1, 0, "", ""),
			fd(1, "application_id", bt.Byte, 1, 0, "", ""),
			fd(2, "manufacturer_id", bt.Uint16, 1, 0, "", "manufacturer"),
			fd(3, "developer_data_index", bt.Uint8, 1, 0, "", ""),
			fd(4, "application_version", bt.Uint32, 1, 0, "", ""),
		}},
	}
}
