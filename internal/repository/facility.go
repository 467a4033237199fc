package repository

import (
	"context"
	"database/sql"
	"fmt"

	"rescuenet-core/internal/models"

	"go.uber.org/zap"
)

// FacilityRepository 响应机构目录（facilities 表，对本服务只读）
type FacilityRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFacilityRepository 创建机构目录仓库
func NewFacilityRepository(db *sql.DB, logger *zap.Logger) *FacilityRepository {
	return &FacilityRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveFacilities 列出在册机构
// 距离与能力判定在 locator 内完成，这里只取在册记录
func (r *FacilityRepository) ListActiveFacilities(ctx context.Context) ([]*models.Facility, error) {
	query := `
		SELECT facility_id, name, latitude, longitude,
		       active, emergency_capable, total_capacity, available_capacity
		FROM facilities
		WHERE active = TRUE
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query facilities: %w", err)
	}
	defer rows.Close()

	facilities := []*models.Facility{}
	for rows.Next() {
		var f models.Facility
		err := rows.Scan(
			&f.FacilityID,
			&f.Name,
			&f.Latitude,
			&f.Longitude,
			&f.Active,
			&f.EmergencyCapable,
			&f.TotalCapacity,
			&f.AvailableCapacity,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan facility: %w", err)
		}
		facilities = append(facilities, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate facilities: %w", err)
	}

	return facilities, nil
}
