package models

// VitalRange 单项体征的安全范围（闭区间，min/max 本身视为安全值）
type VitalRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains 判断值是否落在安全范围内
func (v VitalRange) Contains(value float64) bool {
	return value >= v.Min && value <= v.Max
}

// ThresholdProfile 按监护对象配置的体征阈值
// 只能通过显式的 profile 更新操作修改；分类器对其只读
type ThresholdProfile struct {
	SubjectID       string     `json:"subject_id"`
	HeartRate       VitalRange `json:"heart_rate"`
	Temperature     VitalRange `json:"temperature"`
	SystolicBP      VitalRange `json:"systolic_bp"`
	DiastolicBP     VitalRange `json:"diastolic_bp"`
	SpO2Min         float64    `json:"spo2_min"`
	RespiratoryRate VitalRange `json:"respiratory_rate"`

	FallCutoff          float64 `json:"fall_cutoff"`           // 跌倒置信度触发阈值
	InactivityCutoffSec int     `json:"inactivity_cutoff_sec"` // 无活动时长触发阈值（秒）
}

// DefaultThresholdProfile 默认阈值（成人常规范围）
func DefaultThresholdProfile(subjectID string) *ThresholdProfile {
	return &ThresholdProfile{
		SubjectID:           subjectID,
		HeartRate:           VitalRange{Min: 60, Max: 100},
		Temperature:         VitalRange{Min: 36.1, Max: 37.2},
		SystolicBP:          VitalRange{Min: 90, Max: 140},
		DiastolicBP:         VitalRange{Min: 60, Max: 90},
		SpO2Min:             95,
		RespiratoryRate:     VitalRange{Min: 12, Max: 20},
		FallCutoff:          0.7,
		InactivityCutoffSec: 7200,
	}
}
