package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Accounts(context.Context) AccountStore { return &accountStore{db: s.db} }
func (s *PGStore) Users(context.Context) UserStore       { return &userStore{db: s.db} }
func (s *PGStore) LandscapeURLs(context.Context) LandscapeURLStore {
	return &landscapeStore{db: s.db}
}

// Account store ------------------------------------------------------------
type accountStore struct{ db *sql.DB }

func (s *accountStore) Create(ctx context.Context, account *Account) error {
	row := s.db.QueryRowContext(ctx,
		`insert into accounts(name, is_active, created_at, last_activity)
		 values($1,$2,$3,$3) returning id`,
		account.Name, account.IsActive, account.CreatedAt,
	)
	return row.Scan(&account.ID)
}

func (s *accountStore) Find(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, is_active, created_at, last_activity from accounts where id=$1`, id)
	var a Account
	if err := row.Scan(&a.ID, &a.Name, &a.IsActive, &a.CreatedAt, &a.LastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *accountStore) FindByName(ctx context.Context, name string) (*Account, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, is_active, created_at, last_activity from accounts where name=$1`, name)
	var a Account
	if err := row.Scan(&a.ID, &a.Name, &a.IsActive, &a.CreatedAt, &a.LastActivity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (s *accountStore) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `update accounts set is_active=$2 where id=$1`, id, active)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *accountStore) TouchActivity(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update accounts set last_activity=$2 where id=$1`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// User store ---------------------------------------------------------------
type userStore struct{ db *sql.DB }

const userColumns = `id, account_id, email, friendly_name, password_hash,
	is_primary, is_active, coalesce(activation_code, ''), created_at, last_activity, last_modified`

func (s *userStore) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, account_id, email, friendly_name, password_hash,
			is_primary, is_active, activation_code, created_at, last_activity, last_modified)
		 values($1,$2,$3,$4,$5,$6,$7,nullif($8,''),$9,$9,$9)`,
		u.ID, u.AccountID, u.Email, u.FriendlyName, u.PasswordHash,
		u.IsPrimary, u.IsActive, u.ActivationCode, u.CreatedAt,
	)
	return err
}

func (s *userStore) Find(ctx context.Context, id string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id)
	return scanUser(row)
}

func (s *userStore) FindPrimary(ctx context.Context, accountID int64) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where account_id=$1 and is_primary`, accountID)
	return scanUser(row)
}

func (s *userStore) UpdateProfile(ctx context.Context, id string, email, friendlyName *string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set email=coalesce($2,email), friendly_name=coalesce($3,friendly_name),
			last_modified=$4 where id=$1`,
		id, email, friendlyName, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, last_modified=$3 where id=$1`,
		id, passwordHash, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *userStore) TouchActivity(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_activity=$2 where id=$1`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.AccountID, &u.Email, &u.FriendlyName, &u.PasswordHash,
		&u.IsPrimary, &u.IsActive, &u.ActivationCode, &u.CreatedAt, &u.LastActivity, &u.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// Landscape URL store -------------------------------------------------------
type landscapeStore struct{ db *sql.DB }

func (s *landscapeStore) Get(ctx context.Context, scope, key string) (*LandscapeURL, error) {
	row := s.db.QueryRowContext(ctx,
		`select scope, key, value from landscape_urls where scope=$1 and key=$2`, scope, key)
	var l LandscapeURL
	if err := row.Scan(&l.Scope, &l.Key, &l.Value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func (s *landscapeStore) Upsert(ctx context.Context, entry *LandscapeURL) error {
	_, err := s.db.ExecContext(ctx,
		`insert into landscape_urls(scope, key, value) values($1,$2,$3)
		 on conflict (scope, key) do update set value=excluded.value`,
		entry.Scope, entry.Key, entry.Value)
	return err
}

func (s *landscapeStore) ListScope(ctx context.Context, scope string) ([]LandscapeURL, error) {
	rows, err := s.db.QueryContext(ctx,
		`select scope, key, value from landscape_urls where scope=$1 order by key asc`, scope)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []LandscapeURL
	for rows.Next() {
		var l LandscapeURL
		if err := rows.Scan(&l.Scope, &l.Key, &l.Value); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
