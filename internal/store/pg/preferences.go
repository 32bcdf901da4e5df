package pg

import (
	"context"
	"database/sql"
	"errors"

	"opsconsole.dev/internal/auth"
)

type preferenceStore struct{ s *Store }

func (p preferenceStore) Get(ctx context.Context, accountID int64) (auth.Preferences, error) {
	var raw []byte
	err := p.s.db.QueryRowContext(ctx, `
		select preferences from user_preferences where account_id = $1
	`, accountID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Preferences(`{}`), nil
	}
	if err != nil {
		return nil, err
	}
	return auth.Preferences(raw), nil
}

func (p preferenceStore) Put(ctx context.Context, accountID int64, prefs auth.Preferences) error {
	_, err := p.s.db.ExecContext(ctx, `
		insert into user_preferences (account_id, preferences, updated_at)
		values ($1, $2, now())
		on conflict (account_id) do update
		set preferences = excluded.preferences, updated_at = excluded.updated_at
	`, accountID, []byte(prefs))
	return mapError(err)
}
