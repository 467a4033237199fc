package models

// Facility 响应机构（facilities 表，对本服务只读）
type Facility struct {
	FacilityID        string  `json:"facility_id" db:"facility_id"`
	Name              string  `json:"name" db:"name"`
	Latitude          float64 `json:"latitude" db:"latitude"`
	Longitude         float64 `json:"longitude" db:"longitude"`
	Active            bool    `json:"active" db:"active"`
	EmergencyCapable  bool    `json:"emergency_capable" db:"emergency_capable"`
	TotalCapacity     int     `json:"total_capacity" db:"total_capacity"`
	AvailableCapacity int     `json:"available_capacity" db:"available_capacity"`
}

// Capable 机构能力判定：在册、具备急救能力、有空余容量
func (f *Facility) Capable() bool {
	return f.Active && f.EmergencyCapable && f.AvailableCapacity > 0
}
