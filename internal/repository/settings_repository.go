package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/repository/base"
)

type SettingsRepository struct {
	*base.Repository
}

func NewSettingsRepository(b *base.Repository) *SettingsRepository {
	return &SettingsRepository{Repository: b}
}

// GetPolicy returns the raw settings document of an organization, nil if none is stored
func (r *SettingsRepository) GetPolicy(ctx context.Context, orgID int64) ([]byte, error) {
	query := `
		SELECT settings
		FROM scheduling_settings
		WHERE org_id = $1
	`

	var raw []byte
	err := r.QueryRow(ctx, query, orgID).Scan(&raw)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scheduling settings: %w", err)
	}

	return raw, nil
}

// SavePolicy replaces the settings document of an organization
func (r *SettingsRepository) SavePolicy(ctx context.Context, orgID int64, raw []byte) error {
	query := `
		INSERT INTO scheduling_settings (org_id, settings, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (org_id) DO UPDATE
		SET settings = EXCLUDED.settings, updated_at = NOW()
	`

	if _, err := r.ExecAffected(ctx, query, orgID, raw); err != nil {
		return fmt.Errorf("save scheduling settings: %w", err)
	}

	return nil
}
