package repository

import (
	"context"
	"database/sql"
	"fmt"

	"rescuenet-core/internal/models"

	"go.uber.org/zap"
)

// ProfileRepository 体征阈值配置仓库
type ProfileRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewProfileRepository 创建阈值配置仓库
func NewProfileRepository(db *sql.DB, logger *zap.Logger) *ProfileRepository {
	return &ProfileRepository{
		db:     db,
		logger: logger,
	}
}

// GetThresholdProfile 获取监护对象的阈值配置，未配置时返回默认阈值
func (r *ProfileRepository) GetThresholdProfile(ctx context.Context, subjectID string) (*models.ThresholdProfile, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}

	query := `
		SELECT subject_id,
		       heart_rate_min, heart_rate_max,
		       temperature_min, temperature_max,
		       systolic_min, systolic_max,
		       diastolic_min, diastolic_max,
		       spo2_min,
		       respiratory_min, respiratory_max,
		       fall_cutoff, inactivity_cutoff_sec
		FROM threshold_profiles
		WHERE subject_id = $1
	`

	var p models.ThresholdProfile
	err := r.db.QueryRowContext(ctx, query, subjectID).Scan(
		&p.SubjectID,
		&p.HeartRate.Min, &p.HeartRate.Max,
		&p.Temperature.Min, &p.Temperature.Max,
		&p.SystolicBP.Min, &p.SystolicBP.Max,
		&p.DiastolicBP.Min, &p.DiastolicBP.Max,
		&p.SpO2Min,
		&p.RespiratoryRate.Min, &p.RespiratoryRate.Max,
		&p.FallCutoff, &p.InactivityCutoffSec,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return models.DefaultThresholdProfile(subjectID), nil
		}
		return nil, fmt.Errorf("failed to get threshold profile: %w", err)
	}

	return &p, nil
}

// UpsertThresholdProfile 写入或更新阈值配置
// 阈值只通过此显式操作变更，分类过程不会回写
func (r *ProfileRepository) UpsertThresholdProfile(ctx context.Context, profile *models.ThresholdProfile) error {
	if profile == nil {
		return fmt.Errorf("profile is required")
	}
	if profile.SubjectID == "" {
		return fmt.Errorf("subject_id is required")
	}

	query := `
		INSERT INTO threshold_profiles (
			subject_id,
			heart_rate_min, heart_rate_max,
			temperature_min, temperature_max,
			systolic_min, systolic_max,
			diastolic_min, diastolic_max,
			spo2_min,
			respiratory_min, respiratory_max,
			fall_cutoff, inactivity_cutoff_sec,
			updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, CURRENT_TIMESTAMP)
		ON CONFLICT (subject_id) DO UPDATE SET
			heart_rate_min = EXCLUDED.heart_rate_min,
			heart_rate_max = EXCLUDED.heart_rate_max,
			temperature_min = EXCLUDED.temperature_min,
			temperature_max = EXCLUDED.temperature_max,
			systolic_min = EXCLUDED.systolic_min,
			systolic_max = EXCLUDED.systolic_max,
			diastolic_min = EXCLUDED.diastolic_min,
			diastolic_max = EXCLUDED.diastolic_max,
			spo2_min = EXCLUDED.spo2_min,
			respiratory_min = EXCLUDED.respiratory_min,
			respiratory_max = EXCLUDED.respiratory_max,
			fall_cutoff = EXCLUDED.fall_cutoff,
			inactivity_cutoff_sec = EXCLUDED.inactivity_cutoff_sec,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query,
		profile.SubjectID,
		profile.HeartRate.Min, profile.HeartRate.Max,
		profile.Temperature.Min, profile.Temperature.Max,
		profile.SystolicBP.Min, profile.SystolicBP.Max,
		profile.DiastolicBP.Min, profile.DiastolicBP.Max,
		profile.SpO2Min,
		profile.RespiratoryRate.Min, profile.RespiratoryRate.Max,
		profile.FallCutoff, profile.InactivityCutoffSec,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert threshold profile: %w", err)
	}

	return nil
}
