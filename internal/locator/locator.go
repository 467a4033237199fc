package locator

import (
	"context"
	"fmt"
	"math"
	"sort"

	"rescuenet-core/internal/models"

	"go.uber.org/zap"
)

const earthRadiusKm = 6371.0

// FacilityDirectory 机构目录数据源
type FacilityDirectory interface {
	ListActiveFacilities(ctx context.Context) ([]*models.Facility, error)
}

// Locator 响应机构检索
// 按能力过滤、按距离排序，并给出粗略 ETA 估算
type Locator struct {
	directory   FacilityDirectory
	maxRadiusKm float64
	avgSpeedKmh float64
	logger      *zap.Logger
}

// NewLocator 创建机构检索器
func NewLocator(directory FacilityDirectory, maxRadiusKm, avgSpeedKmh float64, logger *zap.Logger) *Locator {
	return &Locator{
		directory:   directory,
		maxRadiusKm: maxRadiusKm,
		avgSpeedKmh: avgSpeedKmh,
		logger:      logger,
	}
}

// FindCapable 检索事发位置周边有响应能力的机构
// 排序：距离升序，距离相同时空余容量降序
// 位置缺失或无可用机构时返回空列表，由调用方转人工分派
func (l *Locator) FindCapable(ctx context.Context, location *models.GeoPoint) ([]models.FacilityCandidate, error) {
	if location == nil {
		return []models.FacilityCandidate{}, nil
	}

	facilities, err := l.directory.ListActiveFacilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list facilities: %w", err)
	}

	candidates := []models.FacilityCandidate{}
	for _, f := range facilities {
		if !f.Capable() {
			continue
		}

		distance := haversineKm(location.Latitude, location.Longitude, f.Latitude, f.Longitude)
		if distance > l.maxRadiusKm {
			continue
		}

		candidates = append(candidates, models.FacilityCandidate{
			FacilityID:        f.FacilityID,
			Name:              f.Name,
			DistanceKm:        roundKm(distance),
			AvailableCapacity: f.AvailableCapacity,
			ETAMinutes:        l.estimateETA(distance),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].DistanceKm != candidates[j].DistanceKm {
			return candidates[i].DistanceKm < candidates[j].DistanceKm
		}
		return candidates[i].AvailableCapacity > candidates[j].AvailableCapacity
	})

	l.logger.Debug("facility lookup completed",
		zap.Float64("latitude", location.Latitude),
		zap.Float64("longitude", location.Longitude),
		zap.Int("candidates", len(candidates)))

	return candidates, nil
}

// estimateETA 按平均车速估算到达分钟数，至少 1 分钟
func (l *Locator) estimateETA(distanceKm float64) int {
	if l.avgSpeedKmh <= 0 {
		return 0
	}
	minutes := int(math.Ceil(distanceKm / l.avgSpeedKmh * 60))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

// haversineKm 球面距离（公里）
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func roundKm(km float64) float64 {
	return math.Round(km*100) / 100
}
