package classifier

import (
	"fmt"

	"rescuenet-core/internal/models"
)

// 边界语义：安全端闭、危险端开
// 即等于 min/max 的值视为安全，只有越过边界才触发；
// 心率的 critical 上界例外（>= 150 即 critical），与急救阈值口径保持一致
const (
	hrCriticalLow          = 40
	hrCriticalHigh         = 150
	tempCriticalLow        = 35.0
	tempCriticalHigh       = 39.0
	fallCriticalConfidence = 0.9
	spo2Critical           = 90
)

// Classify 将单条读数按阈值配置映射为异常发现列表
// 纯函数：无 I/O、无共享状态，输出顺序确定（按事件类型优先级）
func Classify(reading *models.VitalReading, profile *models.ThresholdProfile) []models.AnomalyFinding {
	if reading == nil || profile == nil {
		// 无法分类的输入按非紧急处理（fail closed）
		return nil
	}

	var findings []models.AnomalyFinding

	if f := checkFall(reading, profile); f != nil {
		findings = append(findings, *f)
	}
	if f := checkHeartRate(reading, profile); f != nil {
		findings = append(findings, *f)
	}
	if f := checkTemperature(reading, profile); f != nil {
		findings = append(findings, *f)
	}
	if f := checkBloodPressure(reading, profile); f != nil {
		findings = append(findings, *f)
	}
	if f := checkRespiratoryRate(reading, profile); f != nil {
		findings = append(findings, *f)
	}
	if f := checkSpO2(reading, profile); f != nil {
		findings = append(findings, *f)
	}
	if f := checkInactivity(reading, profile); f != nil {
		findings = append(findings, *f)
	}

	return findings
}

// checkFall 跌倒检测：置信度达到阈值即触发
func checkFall(reading *models.VitalReading, profile *models.ThresholdProfile) *models.AnomalyFinding {
	if reading.FallConfidence == nil {
		return nil
	}
	conf := *reading.FallConfidence
	if conf < profile.FallCutoff {
		return nil
	}

	severity := models.SeverityHigh
	if conf > fallCriticalConfidence {
		severity = models.SeverityCritical
	}
	return &models.AnomalyFinding{
		Kind:     models.TypeFall,
		Severity: severity,
		Detail:   fmt.Sprintf("fall detected with confidence %.2f", conf),
	}
}

// checkHeartRate 心率检测
func checkHeartRate(reading *models.VitalReading, profile *models.ThresholdProfile) *models.AnomalyFinding {
	if reading.HeartRate == nil {
		return nil
	}
	hr := *reading.HeartRate
	if profile.HeartRate.Contains(float64(hr)) {
		return nil
	}

	severity := models.SeverityHigh
	if hr < hrCriticalLow || hr >= hrCriticalHigh {
		severity = models.SeverityCritical
	}
	return &models.AnomalyFinding{
		Kind:     models.TypeHeartRateAnomaly,
		Severity: severity,
		Detail:   fmt.Sprintf("heart rate %d outside [%.0f, %.0f]", hr, profile.HeartRate.Min, profile.HeartRate.Max),
	}
}

// checkTemperature 体温检测
func checkTemperature(reading *models.VitalReading, profile *models.ThresholdProfile) *models.AnomalyFinding {
	if reading.Temperature == nil {
		return nil
	}
	temp := *reading.Temperature
	if profile.Temperature.Contains(temp) {
		return nil
	}

	severity := models.SeverityHigh
	if temp > tempCriticalHigh || temp < tempCriticalLow {
		severity = models.SeverityCritical
	}
	return &models.AnomalyFinding{
		Kind:     models.TypeTemperatureAnomaly,
		Severity: severity,
		Detail:   fmt.Sprintf("temperature %.1f outside [%.1f, %.1f]", temp, profile.Temperature.Min, profile.Temperature.Max),
	}
}

// checkBloodPressure 血压检测（收缩压或舒张压越界即触发，默认 medium）
func checkBloodPressure(reading *models.VitalReading, profile *models.ThresholdProfile) *models.AnomalyFinding {
	var detail string
	if reading.SystolicBP != nil && !profile.SystolicBP.Contains(float64(*reading.SystolicBP)) {
		detail = fmt.Sprintf("systolic %d outside [%.0f, %.0f]", *reading.SystolicBP, profile.SystolicBP.Min, profile.SystolicBP.Max)
	} else if reading.DiastolicBP != nil && !profile.DiastolicBP.Contains(float64(*reading.DiastolicBP)) {
		detail = fmt.Sprintf("diastolic %d outside [%.0f, %.0f]", *reading.DiastolicBP, profile.DiastolicBP.Min, profile.DiastolicBP.Max)
	} else {
		return nil
	}

	return &models.AnomalyFinding{
		Kind:     models.TypeBloodPressureAnomaly,
		Severity: models.SeverityMedium,
		Detail:   detail,
	}
}

// checkRespiratoryRate 呼吸率检测（默认 medium）
func checkRespiratoryRate(reading *models.VitalReading, profile *models.ThresholdProfile) *models.AnomalyFinding {
	if reading.RespiratoryRate == nil {
		return nil
	}
	rr := *reading.RespiratoryRate
	if profile.RespiratoryRate.Contains(float64(rr)) {
		return nil
	}
	return &models.AnomalyFinding{
		Kind:     models.TypeRespiratoryAnomaly,
		Severity: models.SeverityMedium,
		Detail:   fmt.Sprintf("respiratory rate %d outside [%.0f, %.0f]", rr, profile.RespiratoryRate.Min, profile.RespiratoryRate.Max),
	}
}

// checkSpO2 血氧检测：低于配置下限触发，低于 90 为 critical
func checkSpO2(reading *models.VitalReading, profile *models.ThresholdProfile) *models.AnomalyFinding {
	if reading.SpO2 == nil {
		return nil
	}
	spo2 := *reading.SpO2
	if float64(spo2) >= profile.SpO2Min {
		return nil
	}

	severity := models.SeverityHigh
	if spo2 < spo2Critical {
		severity = models.SeverityCritical
	}
	return &models.AnomalyFinding{
		Kind:     models.TypeOxygenAnomaly,
		Severity: severity,
		Detail:   fmt.Sprintf("spo2 %d below %.0f", spo2, profile.SpO2Min),
	}
}

// checkInactivity 无活动检测（默认 medium）
func checkInactivity(reading *models.VitalReading, profile *models.ThresholdProfile) *models.AnomalyFinding {
	if reading.InactivitySec == nil || profile.InactivityCutoffSec <= 0 {
		return nil
	}
	if *reading.InactivitySec < profile.InactivityCutoffSec {
		return nil
	}
	return &models.AnomalyFinding{
		Kind:     models.TypeInactivity,
		Severity: models.SeverityMedium,
		Detail:   fmt.Sprintf("no activity for %d seconds", *reading.InactivitySec),
	}
}

// typePriority 主类型优先级（物理紧急度优先，数值越小优先级越高）
var typePriority = map[models.IncidentType]int{
	models.TypeFall:                 1,
	models.TypeHeartRateAnomaly:     2,
	models.TypeTemperatureAnomaly:   3,
	models.TypeBloodPressureAnomaly: 4,
	models.TypeRespiratoryAnomaly:   5,
	models.TypeOxygenAnomaly:        6,
	models.TypeInactivity:           7,
}

// PrimaryType 从多个发现中选取主事件类型
func PrimaryType(findings []models.AnomalyFinding) models.IncidentType {
	if len(findings) == 0 {
		return ""
	}
	primary := findings[0]
	for _, f := range findings[1:] {
		if typePriority[f.Kind] < typePriority[primary.Kind] {
			primary = f
		}
	}
	return primary.Kind
}

// OverallSeverity 总体级别 = 所有发现中的最高级别（归约而非累加）
func OverallSeverity(findings []models.AnomalyFinding) models.Severity {
	if len(findings) == 0 {
		return ""
	}
	severity := findings[0].Severity
	for _, f := range findings[1:] {
		severity = models.MaxSeverity(severity, f.Severity)
	}
	return severity
}
