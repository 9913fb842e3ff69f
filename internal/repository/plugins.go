package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	repoerrors "tracksync/internal/infrastructure/errors"
	"tracksync/internal/types"
)

const pluginColumns = `id, name, marketplace_id, installation_id, version, source_path, checksum, is_activated,
	created_at, updated_at`

func scanPlugin(row scanner) (types.Plugin, error) {
	var (
		p                       types.Plugin
		marketplaceID, checksum sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &marketplaceID, &p.InstallationID, &p.Version, &p.SourcePath, &checksum,
		&p.IsActivated, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return p, err
	}
	p.MarketplaceID = marketplaceID.String
	p.Checksum = checksum.String
	return p, nil
}

// SavePlugin registers an installed plugin; name and installation id are unique
func (r *SQLiteRepository) SavePlugin(ctx context.Context, plugin *types.Plugin) error {
	if plugin == nil || strings.TrimSpace(plugin.Name) == "" {
		return repoerrors.HandleValidationError("SavePlugin", "name", "plugin name is required")
	}
	if plugin.InstallationID == "" {
		return repoerrors.HandleValidationError("SavePlugin", "installationId", "installation id is required")
	}

	now := r.now().UTC()
	id, err := r.insert(ctx, "SavePlugin", map[string]string{"plugin": plugin.Name},
		`INSERT INTO plugins (name, marketplace_id, installation_id, version, source_path, checksum, is_activated,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plugin.Name, nullString(plugin.MarketplaceID), plugin.InstallationID, plugin.Version, plugin.SourcePath,
		nullString(plugin.Checksum), plugin.IsActivated, now, now)
	if err != nil {
		return err
	}

	plugin.ID = id
	plugin.CreatedAt = now
	plugin.UpdatedAt = now
	return nil
}

// FindPluginByName returns nil when no plugin has that name
func (r *SQLiteRepository) FindPluginByName(ctx context.Context, name string) (*types.Plugin, error) {
	return queryOne(ctx, r, "FindPluginByName", scanPlugin,
		"SELECT "+pluginColumns+" FROM plugins WHERE name = ?", name)
}

// FindPluginByMarketplaceID returns nil when nothing matches
func (r *SQLiteRepository) FindPluginByMarketplaceID(ctx context.Context, marketplaceID string) (*types.Plugin, error) {
	return queryOne(ctx, r, "FindPluginByMarketplaceID", scanPlugin,
		"SELECT "+pluginColumns+" FROM plugins WHERE marketplace_id = ? ORDER BY id DESC LIMIT 1", marketplaceID)
}

func (r *SQLiteRepository) FindAllPlugins(ctx context.Context) ([]types.Plugin, error) {
	return queryList(ctx, r, "FindAllPlugins", scanPlugin,
		"SELECT "+pluginColumns+" FROM plugins ORDER BY name")
}

func (r *SQLiteRepository) SetPluginActivated(ctx context.Context, id int64, activated bool) error {
	_, err := r.exec(ctx, "SetPluginActivated", map[string]string{"plugin_id": strconv.FormatInt(id, 10)},
		"UPDATE plugins SET is_activated = ?, updated_at = ? WHERE id = ?", activated, r.now().UTC(), id)
	return err
}

func (r *SQLiteRepository) RemovePlugin(ctx context.Context, id int64) error {
	_, err := r.exec(ctx, "RemovePlugin", map[string]string{"plugin_id": strconv.FormatInt(id, 10)},
		"DELETE FROM plugins WHERE id = ?", id)
	return err
}
