package catalog

import (
	"fmt"
	"time"

	"github.com/xtxerr/plclogger/internal/register"
)

// Cadences of the built-in pump station catalog.
const (
	FastCadence   = time.Second
	IdleCadence   = 10 * time.Minute
	SystemCadence = 10 * time.Second
)

// Default returns the built-in catalog of a two-pump wet-well lift station:
// system tags, one 15-register block per pump at %MW400 and %MW420, and
// the setpoint block at %MW300.
func Default() *Catalog {
	tags := []Tag{
		{Name: "SYS_WetWellLevel", Label: "Wet Well Level", Address: 440, Type: register.Float32,
			Scale: 1, Unit: "level", Policy: Interval{Every: SystemCadence}},
		{Name: "SYS_OutDataWord", Label: "System Output Data Word", Address: 442, Type: register.Int16,
			Scale: 1, Policy: OnChange{}},
	}
	tags = append(tags, PumpTags(400, "P1", "Pump 1")...)
	tags = append(tags, PumpTags(420, "P2", "Pump 2")...)

	c, err := New(Window{Base: 400, Count: 50}, tags, defaultSetpoints())
	if err != nil {
		panic(fmt.Sprintf("catalog: built-in catalog is invalid: %v", err))
	}
	return c
}

// PumpTags returns the tag block of one variable-speed pump drive. Analog
// drive values are logged while the pump runs; counters and status words
// are logged when they change.
func PumpTags(base uint16, key, label string) []Tag {
	running := Condition{Peer: key + "_MotorStatus", Op: OpEq, Value: 1}
	whileRunning := Conditional{When: running, Active: FastCadence, Idle: IdleCadence}

	tag := func(suffix, what string, offset uint16, dt register.DataType, scale float64, unit string, p Policy) Tag {
		return Tag{
			Name:    key + "_" + suffix,
			Label:   label + " " + what,
			Address: base + offset,
			Type:    dt,
			Scale:   scale,
			Unit:    unit,
			Policy:  p,
		}
	}

	return []Tag{
		tag("DrvStatusWord", "Drive Status Word", 0, register.Uint16, 1, "", OnChange{}),
		tag("OutputFreq", "Output Frequency", 1, register.Int16, 0.1, "Hz.", whileRunning),
		tag("MotorCurrent", "Motor Current", 2, register.Int16, 0.1, "A", whileRunning),
		tag("MotorTorque", "Motor Torque", 3, register.Int16, 0.1, "%", whileRunning),
		tag("LineVoltage", "Line Mains Voltage", 4, register.Int16, 0.1, "V", whileRunning),
		tag("DrvThermalState", "Drive Thermal State", 5, register.Int16, 1, "raw", whileRunning),
		tag("MotorPower", "Motor Power", 6, register.Uint16, 1, "", whileRunning),
		tag("FaultCode", "Previous Fault", 7, register.Uint16, 1, "", OnChange{}),
		tag("TotalStarts", "Total Starts", 8, register.Int32, 1, "", OnChange{}),
		tag("TotalHours", "Total Hours", 10, register.Int32, 0.1, "hr.", OnChange{}),
		tag("MotorStatus", "Motor Status (Off/Running/Fault)", 12, register.Uint16, 1, "", OnChange{}),
		tag("Mode", "Selector Switch Mode (Off/Hand/Auto)", 13, register.Uint16, 1, "", OnChange{}),
		tag("OutDataWord", "Output Data/Fault Word", 14, register.Uint16, 1, "", OnChange{}),
	}
}

func defaultSetpoints() []Setpoint {
	sp := func(name, label string, addr uint16, dt register.DataType, unit string) Setpoint {
		return Setpoint{Name: name, Label: label, Address: addr, Type: dt, Unit: unit}
	}
	return []Setpoint{
		sp("WetWell_Stop_Level", "Wet Well Stop Level", 300, register.Float32, "In."),
		sp("WetWell_Lead_Start_Level", "Wet Well Lead Pump Start Level", 302, register.Float32, "In."),
		sp("WetWell_Lag_Start_Level", "Wet Well Lag Pump Start Level", 304, register.Float32, "In."),
		sp("WetWell_High_Level", "Wet Well High Level", 306, register.Float32, "In."),
		sp("WetWell_Level_Scale_0V", "Wet Well Level Scaling - 0V", 308, register.Float32, "In."),
		sp("WetWell_Level_Scale_10V", "Wet Well Level Scaling - 10V", 310, register.Float32, "In."),
		sp("Spare_Analog_IO_1", "Spare Analog IO 1", 312, register.Float32, ""),
		sp("Spare_Analog_IO_2", "Spare Analog IO 2", 314, register.Float32, ""),
		sp("Pump1_Speed_Setpoint_pct", "Pump 1 Speed Setpoint", 316, register.Float32, "Hz."),
		sp("Pump2_Speed_Setpoint_pct", "Pump 2 Speed Setpoint", 318, register.Float32, "Hz."),
		sp("Pump1_FailToRun_Delay_sec", "Pump 1 Fail To Run Delay", 320, register.Int16, "sec."),
		sp("Pump2_FailToRun_Delay_sec", "Pump 2 Fail To Run Delay", 321, register.Int16, "sec."),
		sp("Spare_Analog_IO_HighLevel", "Spare Analog IO High Level", 322, register.Float32, ""),
	}
}
