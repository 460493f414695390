package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

func (s *Store) EnsureToolset(ctx context.Context, id, name string) error {
	return s.w.write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO toolsets(id, name) VALUES (?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name`, id, name)
		return err
	})
}

// UpsertSkill registers or updates a callable tool, keyed on tool_id.
func (s *Store) UpsertSkill(ctx context.Context, sk Skill, signature []float32) (string, error) {
	id := NewID()
	phrases, _ := json.Marshal(sk.TriggerPhrases)
	err := s.w.write(ctx, func(tx *sql.Tx) error {
		var rowid int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO skills(id, toolset_id, tool_id, name, description, trigger_phrases)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(tool_id) DO UPDATE SET
				name = excluded.name, description = excluded.description,
				trigger_phrases = excluded.trigger_phrases
			RETURNING rowid, id`,
			id, sk.ToolsetID, sk.ToolID, sk.Name, sk.Description, string(phrases),
		).Scan(&rowid, &id)
		if err != nil {
			return err
		}
		if signature != nil {
			_, err = tx.ExecContext(ctx, `INSERT OR REPLACE INTO vec_skills(skill_rowid, signature) VALUES (?, ?)`,
				rowid, serializeFloat32(signature))
		}
		return err
	})
	return id, err
}

// GetSkillToolID resolves a skill's row ID (as returned by retrieval
// hits) back to its bound tool_id, for the chat orchestrator's skill
// dispatch stage.
func (s *Store) GetSkillToolID(ctx context.Context, skillID string) (string, error) {
	var toolID string
	row := s.readDB.QueryRowContext(ctx, `SELECT tool_id FROM skills WHERE id = ?`, skillID)
	if err := row.Scan(&toolID); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	return toolID, nil
}

func (s *Store) ListSkills(ctx context.Context, toolsetID string) ([]Skill, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, toolset_id, tool_id, name, description, COALESCE(trigger_phrases, '[]')
		FROM skills WHERE toolset_id = ?`, toolsetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Skill
	for rows.Next() {
		var sk Skill
		var phrases string
		if err := rows.Scan(&sk.ID, &sk.ToolsetID, &sk.ToolID, &sk.Name, &sk.Description, &phrases); err != nil {
			return nil, err
		}
		json.Unmarshal([]byte(phrases), &sk.TriggerPhrases)
		out = append(out, sk)
	}
	return out, rows.Err()
}
