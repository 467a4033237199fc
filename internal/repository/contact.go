package repository

import (
	"context"
	"database/sql"
	"fmt"

	"rescuenet-core/internal/models"

	"go.uber.org/zap"
)

// ContactRepository 紧急联系人仓库
type ContactRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewContactRepository 创建紧急联系人仓库
func NewContactRepository(db *sql.DB, logger *zap.Logger) *ContactRepository {
	return &ContactRepository{
		db:     db,
		logger: logger,
	}
}

// ListContacts 按优先级列出监护对象的紧急联系人
func (r *ContactRepository) ListContacts(ctx context.Context, subjectID string) ([]*models.EmergencyContact, error) {
	if subjectID == "" {
		return nil, fmt.Errorf("subject_id is required")
	}

	query := `
		SELECT contact_id, subject_id, name, phone, relation, priority
		FROM emergency_contacts
		WHERE subject_id = $1
		ORDER BY priority ASC
	`

	rows, err := r.db.QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer rows.Close()

	contacts := []*models.EmergencyContact{}
	for rows.Next() {
		var c models.EmergencyContact
		err := rows.Scan(
			&c.ContactID,
			&c.SubjectID,
			&c.Name,
			&c.Phone,
			&c.Relation,
			&c.Priority,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}

	return contacts, nil
}
