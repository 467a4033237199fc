package models

import "time"

// NotificationRecord 通知记录（对应 incident_notifications 表，只追加不修改）
// 失败的发送同样落库，供人工排查通知链路
type NotificationRecord struct {
	NotificationID string     `json:"notification_id" db:"notification_id"`
	IncidentID     string     `json:"incident_id" db:"incident_id"`
	Channel        string     `json:"channel" db:"channel"`
	Recipient      string     `json:"recipient" db:"recipient"`
	Message        string     `json:"message" db:"message"`
	SentAt         time.Time  `json:"sent_at" db:"sent_at"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	Delivered      bool       `json:"delivered" db:"delivered"`
	ProviderID     *string    `json:"provider_id,omitempty" db:"provider_id"`
	FailureReason  *string    `json:"failure_reason,omitempty" db:"failure_reason"`
}

// EmergencyContact 监护对象的紧急联系人
type EmergencyContact struct {
	ContactID string `json:"contact_id"`
	SubjectID string `json:"subject_id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Relation  string `json:"relation"`
	Priority  int    `json:"priority"`
}
