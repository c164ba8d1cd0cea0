package telemetry

// Field is the canonical name of one piece of device state.
// Names are snake_case and appear unchanged in JSON, MQTT topics and the API.
type Field string

// Known fields.
const (
	FieldPower               Field = "power"
	FieldTargetTemperature   Field = "target_temperature"
	FieldWaterTemperature    Field = "water_temperature"
	FieldInletTemperature    Field = "inlet_temperature"
	FieldOutletTemperature   Field = "outlet_temperature"
	FieldHotWaterTemperature Field = "hot_water_temperature"
	FieldFlowRate            Field = "flow_rate"
	FieldTotalWater          Field = "total_water"
	FieldWaterHardness       Field = "water_hardness"
	FieldIgnitionCount       Field = "ignition_count"
	FieldTotalGas            Field = "total_gas"
	FieldCruiseGas           Field = "cruise_gas"
	FieldBurnTime            Field = "burn_time"
	FieldGasPressure         Field = "gas_pressure"
	FieldCOConcentration     Field = "co_concentration"
	FieldCombustionRatio     Field = "combustion_ratio"
	FieldWorkStatus          Field = "work_status"
	FieldDeviceStatus        Field = "device_status"
	FieldErrorCode           Field = "error_code"
	FieldFanSpeed            Field = "fan_speed"
	FieldFanCurrent          Field = "fan_current"
	FieldPumpFrequency       Field = "pump_frequency"
	FieldPumpCurrent         Field = "pump_current"
	FieldAntiFreezeCount     Field = "anti_freeze_count"
	FieldBoost               Field = "boost"
	FieldCruise              Field = "cruise"
	FieldEcoHalf             Field = "eco_half"
	FieldCruiseTimer         Field = "cruise_timer"
)

// Kind is the value type of a field.
type Kind int

const (
	// KindNumber values are float64.
	KindNumber Kind = iota
	// KindInteger values are float64 rounded to a whole number.
	KindInteger
	// KindBool values are bool.
	KindBool
	// KindText values are string.
	KindText
)

// Definition describes how one field is read from the vendor outputData.
type Definition struct {
	Field Field
	// Keys are the raw outputData keys, tried in order; the first present wins.
	Keys []string
	Kind Kind
	Unit string
	Name string
	// Writable fields can be targeted by a command.
	Writable bool
}

// definitions is the single field table. Order is the display order.
var definitions = []Definition{
	{Field: FieldPower, Keys: []string{"powerStatus"}, Kind: KindBool, Name: "Power", Writable: true},
	{Field: FieldTargetTemperature, Keys: []string{"setTemp", "waterTemp"}, Kind: KindInteger, Unit: "°C", Name: "Target Temperature", Writable: true},
	{Field: FieldWaterTemperature, Keys: []string{"waterTemp"}, Kind: KindNumber, Unit: "°C", Name: "Water Temperature"},
	{Field: FieldInletTemperature, Keys: []string{"inWaterTemp"}, Kind: KindNumber, Unit: "°C", Name: "Inlet Temperature"},
	{Field: FieldOutletTemperature, Keys: []string{"outWaterTemp"}, Kind: KindNumber, Unit: "°C", Name: "Outlet Temperature"},
	{Field: FieldHotWaterTemperature, Keys: []string{"hotWaterTemp"}, Kind: KindNumber, Unit: "°C", Name: "Hot Water Temperature"},
	{Field: FieldFlowRate, Keys: []string{"waterFlow"}, Kind: KindNumber, Unit: "L/min", Name: "Flow Rate"},
	{Field: FieldTotalWater, Keys: []string{"totalWaterNum"}, Kind: KindNumber, Unit: "m³", Name: "Total Water"},
	{Field: FieldWaterHardness, Keys: []string{"waterHardness"}, Kind: KindNumber, Unit: "ppm", Name: "Water Hardness"},
	{Field: FieldIgnitionCount, Keys: []string{"fireTimes"}, Kind: KindInteger, Name: "Ignition Count"},
	{Field: FieldTotalGas, Keys: []string{"totalGasNum"}, Kind: KindNumber, Unit: "m³", Name: "Total Gas"},
	{Field: FieldCruiseGas, Keys: []string{"cruiseGasNum"}, Kind: KindNumber, Unit: "m³", Name: "Cruise Gas"},
	{Field: FieldBurnTime, Keys: []string{"burnTime"}, Kind: KindNumber, Unit: "h", Name: "Burn Time"},
	{Field: FieldGasPressure, Keys: []string{"gasPressure"}, Kind: KindNumber, Unit: "Pa", Name: "Gas Pressure"},
	{Field: FieldCOConcentration, Keys: []string{"cOConcentration"}, Kind: KindNumber, Unit: "ppm", Name: "CO Concentration"},
	{Field: FieldCombustionRatio, Keys: []string{"combustionRatio"}, Kind: KindNumber, Unit: "%", Name: "Combustion Ratio"},
	{Field: FieldWorkStatus, Keys: []string{"workStatus"}, Kind: KindText, Name: "Run Status"},
	{Field: FieldDeviceStatus, Keys: []string{"deviceStatus"}, Kind: KindText, Name: "Device Status"},
	{Field: FieldErrorCode, Keys: []string{"errorCode"}, Kind: KindText, Name: "Error Code"},
	{Field: FieldFanSpeed, Keys: []string{"fanSpeed"}, Kind: KindNumber, Unit: "rpm", Name: "Fan Speed"},
	{Field: FieldFanCurrent, Keys: []string{"fanCurrent"}, Kind: KindNumber, Unit: "mA", Name: "Fan Current"},
	{Field: FieldPumpFrequency, Keys: []string{"pumpFrequency"}, Kind: KindNumber, Unit: "Hz", Name: "Pump Frequency"},
	{Field: FieldPumpCurrent, Keys: []string{"pumpCurrent"}, Kind: KindNumber, Unit: "mA", Name: "Pump Current"},
	{Field: FieldAntiFreezeCount, Keys: []string{"antiFreezeTimes"}, Kind: KindInteger, Name: "Anti-freeze Cycles"},
	{Field: FieldBoost, Keys: []string{"pressurizeStatus"}, Kind: KindBool, Name: "Boost", Writable: true},
	{Field: FieldCruise, Keys: []string{"cruiseStatus"}, Kind: KindBool, Name: "Cruise", Writable: true},
	{Field: FieldEcoHalf, Keys: []string{"halfPipeStatus", "setHalfPipeCircle", "halfPipeCircle"}, Kind: KindBool, Name: "Eco Half Tank", Writable: true},
	{Field: FieldCruiseTimer, Keys: []string{"WaterCruiseTimer", "waterCruiseTimer", "cruiseTimer"}, Kind: KindInteger, Unit: "min", Name: "Cruise Timer", Writable: true},
}

var (
	byField = make(map[Field]Definition, len(definitions))
	rawKeys = make(map[string]struct{})
)

func init() {
	for _, d := range definitions {
		byField[d.Field] = d
		for _, k := range d.Keys {
			rawKeys[k] = struct{}{}
		}
	}
}

// Definitions returns a copy of the field table in display order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Lookup returns the definition of f.
func Lookup(f Field) (Definition, bool) {
	d, ok := byField[f]
	return d, ok
}

// IsMappedKey reports whether a raw outputData key belongs to a table field.
func IsMappedKey(key string) bool {
	_, ok := rawKeys[key]
	return ok
}
