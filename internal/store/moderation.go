package store

import (
	"context"

	"github.com/google/uuid"
)

// FilterConfig is one content-filter kind's setting for a guild.
type FilterConfig struct {
	Kind     string
	Enabled  bool
	Severity string
}

// ListFilterConfigs returns the configured filter kinds for a guild.
func (p *Pool) ListFilterConfigs(ctx context.Context, guildID string) ([]FilterConfig, error) {
	rows, err := p.Query(ctx, `
		SELECT kind, enabled, severity FROM filter_configs WHERE guild_id = $1`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FilterConfig
	for rows.Next() {
		var c FilterConfig
		if err := rows.Scan(&c.Kind, &c.Enabled, &c.Severity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListCustomPatterns returns guild-defined custom filter patterns.
func (p *Pool) ListCustomPatterns(ctx context.Context, guildID string) ([]string, error) {
	rows, err := p.Query(ctx, `
		SELECT pattern FROM filter_custom_patterns WHERE guild_id = $1`, guildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var pat string
		if err := rows.Scan(&pat); err != nil {
			return nil, err
		}
		out = append(out, pat)
	}
	return out, rows.Err()
}

// UpsertFilterConfig enables/disables a filter kind for a guild, inserting
// a default row if none exists yet.
func (p *Pool) UpsertFilterConfig(ctx context.Context, guildID, kind string, enabled bool, severity string) error {
	_, err := p.Exec(ctx, `
		INSERT INTO filter_configs (guild_id, kind, enabled, severity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (guild_id, kind) DO UPDATE SET enabled = EXCLUDED.enabled, severity = EXCLUDED.severity`,
		guildID, kind, enabled, severity)
	return err
}

// AddCustomPattern appends a guild-defined regex pattern and returns its id.
func (p *Pool) AddCustomPattern(ctx context.Context, guildID, pattern string) (string, error) {
	id := uuid.NewString()
	_, err := p.Exec(ctx, `
		INSERT INTO filter_custom_patterns (id, guild_id, pattern) VALUES ($1, $2, $3)`,
		id, guildID, pattern)
	return id, err
}

// DeleteCustomPattern removes a guild-defined pattern by id.
func (p *Pool) DeleteCustomPattern(ctx context.Context, guildID, patternID string) error {
	_, err := p.Exec(ctx, `
		DELETE FROM filter_custom_patterns WHERE guild_id = $1 AND id = $2`, guildID, patternID)
	return err
}
