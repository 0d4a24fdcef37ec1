package safety

import "fmt"

// FromInfo builds Specs from the loosely-typed customer info collected over
// the chat. Numeric values arrive as JSON float64 or YAML int depending on
// the caller. Both the chat-era key names (battery_voltage, motor_power) and
// the calculator key names (voltage, motor_power_rated) are accepted.
func FromInfo(info map[string]any) (Specs, error) {
	s := Specs{
		BatteryType: str(info, "battery_type"),
		MotorType:   str(info, "motor_type"),
	}
	if s.MotorType == "" {
		s.MotorType = MotorStandard
	}

	var err error
	if s.Voltage, err = num(info, "voltage", "battery_voltage"); err != nil {
		return s, err
	}
	if s.CapacityAh, err = num(info, "capacity_ah"); err != nil {
		return s, err
	}
	if s.BMSCurrent, err = num(info, "bms_current"); err != nil {
		return s, err
	}
	if s.MotorPowerRated, err = num(info, "motor_power_rated", "motor_power"); err != nil {
		return s, err
	}
	if s.WireGauge, err = num(info, "wire_gauge"); err != nil {
		return s, err
	}
	if s.BreakerRating, err = num(info, "breaker_rating"); err != nil {
		return s, err
	}
	if s.ControllerMaxCurrent, err = num(info, "controller_max_current"); err != nil {
		return s, err
	}
	return s, nil
}

func str(info map[string]any, key string) string {
	if v, ok := info[key].(string); ok {
		return v
	}
	return ""
}

// num returns the first present key coerced to float64. Absent keys yield 0
// (Validate decides whether that is an error).
func num(info map[string]any, keys ...string) (float64, error) {
	for _, k := range keys {
		v, ok := info[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		default:
			return 0, &ValidationError{Field: k, Message: fmt.Sprintf("期望数字，实际为 %T", v)}
		}
	}
	return 0, nil
}
