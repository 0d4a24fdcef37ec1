// Package safety computes the safe maximum bus current for a vehicle build
// using the weakest-component rule: five independently derived limits, the
// lowest of which wins.
package safety

import (
	"fmt"
	"math"
)

// Derivation constants.
const (
	MotorCoeffStandard    = 3.5  // 直片电机/普通瓦片
	MotorCoeffPerformance = 6.0  // WP/高性能瓦片
	WireCurrentPerSqmm    = 12.0 // 每平方毫米线径承载电流
	LeadAcidCapacityCoeff = 2.5
	BreakerDerating       = 0.8
	ControllerDerating    = 0.8
)

// Battery types.
const (
	BatteryLeadAcid = "lead_acid"
	BatteryLithium  = "lithium"
)

// Motor types.
const (
	MotorStandard    = "standard"
	MotorPerformance = "performance"
)

// ValidationError reports a missing or inconsistent input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid specs: %s: %s", e.Field, e.Message)
}

// Specs is the parameter set for one vehicle build.
type Specs struct {
	BatteryType string  `yaml:"battery_type" json:"battery_type"`
	Voltage     float64 `yaml:"voltage"      json:"voltage"`
	CapacityAh  float64 `yaml:"capacity_ah,omitempty" json:"capacity_ah,omitempty"`  // 铅酸必填
	BMSCurrent  float64 `yaml:"bms_current,omitempty" json:"bms_current,omitempty"`  // 锂电必填

	MotorPowerRated float64 `yaml:"motor_power_rated" json:"motor_power_rated"`
	MotorType       string  `yaml:"motor_type,omitempty" json:"motor_type,omitempty"`

	WireGauge            float64 `yaml:"wire_gauge"             json:"wire_gauge"`
	BreakerRating        float64 `yaml:"breaker_rating"         json:"breaker_rating"`
	ControllerMaxCurrent float64 `yaml:"controller_max_current" json:"controller_max_current"`
}

// Validate checks the conditionally required fields.
func (s *Specs) Validate() error {
	switch s.BatteryType {
	case BatteryLeadAcid:
		if s.CapacityAh <= 0 {
			return &ValidationError{Field: "capacity_ah", Message: "铅酸电池必须提供容量(Ah)"}
		}
	case BatteryLithium:
		if s.BMSCurrent <= 0 {
			return &ValidationError{Field: "bms_current", Message: "锂电池必须提供保护板持续电流(A)"}
		}
	default:
		return &ValidationError{Field: "battery_type", Message: fmt.Sprintf("未知电池类型 %q", s.BatteryType)}
	}
	if s.Voltage <= 0 {
		return &ValidationError{Field: "voltage", Message: "电池电压必须大于 0"}
	}
	if s.MotorPowerRated <= 0 {
		return &ValidationError{Field: "motor_power_rated", Message: "电机额定功率必须大于 0"}
	}
	if s.WireGauge <= 0 {
		return &ValidationError{Field: "wire_gauge", Message: "主线线径必须大于 0"}
	}
	if s.BreakerRating <= 0 {
		return &ValidationError{Field: "breaker_rating", Message: "空开额定电流必须大于 0"}
	}
	if s.ControllerMaxCurrent <= 0 {
		return &ValidationError{Field: "controller_max_current", Message: "控制器标称最大电流必须大于 0"}
	}
	return nil
}

// limitOrder fixes the bottleneck tie-break: the first component in this
// order that attains the minimum wins.
var limitOrder = []string{"battery", "motor", "wire", "breaker", "controller"}

// Result is the weakest-link analysis for one build.
type Result struct {
	Limits         map[string]float64 `json:"limits"`
	SafeBusCurrent float64            `json:"safe_bus_current"` // rounded to 0.1 A
	Bottleneck     string             `json:"bottleneck"`
	Warning        string             `json:"warning"`
}

// Compute derives the five component limits and returns the minimum with the
// bottleneck named. Inputs are validated first.
func Compute(s Specs) (*Result, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	limits := make(map[string]float64, 5)

	if s.BatteryType == BatteryLeadAcid {
		limits["battery"] = s.CapacityAh * LeadAcidCapacityCoeff
	} else {
		limits["battery"] = s.BMSCurrent
	}

	coeff := MotorCoeffStandard
	if s.MotorType == MotorPerformance {
		coeff = MotorCoeffPerformance
	}
	limits["motor"] = s.MotorPowerRated * coeff / s.Voltage

	limits["wire"] = s.WireGauge * WireCurrentPerSqmm
	limits["breaker"] = s.BreakerRating * BreakerDerating
	limits["controller"] = s.ControllerMaxCurrent * ControllerDerating

	bottleneck := limitOrder[0]
	min := limits[bottleneck]
	for _, name := range limitOrder[1:] {
		if limits[name] < min {
			min = limits[name]
			bottleneck = name
		}
	}

	safe := math.Round(min*10) / 10
	return &Result{
		Limits:         limits,
		SafeBusCurrent: safe,
		Bottleneck:     bottleneck,
		Warning:        warning(bottleneck, safe),
	}, nil
}

// warning produces the customer-facing risk advisory for the bottleneck.
func warning(bottleneck string, value float64) string {
	switch bottleneck {
	case "battery":
		return fmt.Sprintf("系统短板在电池。建议母线电流不超过 %.1fA，否则可能导致电池过热或保护板断电。", value)
	case "wire":
		return fmt.Sprintf("系统短板在主线。建议母线电流不超过 %.1fA，否则可能导致线路发热熔断。", value)
	case "motor":
		return fmt.Sprintf("系统短板在电机。建议母线电流不超过 %.1fA，强行加大电流可能导致电机退磁。", value)
	default:
		return fmt.Sprintf("建议最大母线电流设定为 %.1fA。", value)
	}
}
