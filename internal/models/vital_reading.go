package models

import (
	"fmt"
)

// VitalReading 标准化生命体征读数（由外部网关认证和校验后推送）
// 创建后不可变；Incident 通过 reading_id 弱引用，不做值嵌入
type VitalReading struct {
	ReadingID string `json:"reading_id"`
	SubjectID string `json:"subject_id"`
	DeviceID  string `json:"device_id"`
	Timestamp int64  `json:"timestamp"` // Unix 时间戳（秒）

	// 生命体征（缺失的字段为 nil，表示设备未上报）
	HeartRate       *int     `json:"heart_rate,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"` // 摄氏度
	SystolicBP      *int     `json:"systolic_bp,omitempty"`
	DiastolicBP     *int     `json:"diastolic_bp,omitempty"`
	SpO2            *int     `json:"spo2,omitempty"`
	RespiratoryRate *int     `json:"respiratory_rate,omitempty"`

	// 运动数据（来自佩戴设备的加速度计）
	Motion         *MotionVector `json:"motion,omitempty"`
	FallConfidence *float64      `json:"fall_confidence,omitempty"` // 0.0 - 1.0
	InactivitySec  *int          `json:"inactivity_sec,omitempty"`  // 持续无活动时长（秒）

	BatteryLevel *int      `json:"battery_level,omitempty"`
	Location     *GeoPoint `json:"location,omitempty"`
}

// MotionVector 三轴运动向量
type MotionVector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// GeoPoint 经纬度坐标
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate 校验读数的基本合法性
// 超出生理可能范围的值视为设备故障数据，整条读数拒绝（fail closed）
func (r *VitalReading) Validate() error {
	if r.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}
	if r.DeviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if r.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	if r.HeartRate != nil && (*r.HeartRate < 0 || *r.HeartRate > 300) {
		return fmt.Errorf("heart_rate out of physiological range: %d", *r.HeartRate)
	}
	if r.Temperature != nil && (*r.Temperature < 25.0 || *r.Temperature > 45.0) {
		return fmt.Errorf("temperature out of physiological range: %.1f", *r.Temperature)
	}
	if r.SystolicBP != nil && (*r.SystolicBP < 0 || *r.SystolicBP > 300) {
		return fmt.Errorf("systolic_bp out of physiological range: %d", *r.SystolicBP)
	}
	if r.DiastolicBP != nil && (*r.DiastolicBP < 0 || *r.DiastolicBP > 200) {
		return fmt.Errorf("diastolic_bp out of physiological range: %d", *r.DiastolicBP)
	}
	if r.SpO2 != nil && (*r.SpO2 < 0 || *r.SpO2 > 100) {
		return fmt.Errorf("spo2 out of range: %d", *r.SpO2)
	}
	if r.RespiratoryRate != nil && (*r.RespiratoryRate < 0 || *r.RespiratoryRate > 80) {
		return fmt.Errorf("respiratory_rate out of physiological range: %d", *r.RespiratoryRate)
	}
	if r.FallConfidence != nil && (*r.FallConfidence < 0 || *r.FallConfidence > 1.0) {
		return fmt.Errorf("fall_confidence must be within [0, 1]: %.2f", *r.FallConfidence)
	}
	return nil
}
