package database

import (
	"time"
)

func (db *PgPartyRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, username, email",
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgPartyRepository) UpdateAccount(params UpdateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"UPDATE accounts SET username = $2, password_hash = $3, updated_at = $4 "+
			"WHERE id = $1 RETURNING id, username, email",
		params.UserId,
		params.Username,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
	)

	return u, err
}

func (db *PgPartyRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
	)

	return user, err
}

func (db *PgPartyRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgPartyRepository) CreateParty(params CreatePartyParams) (Party, error) {
	res := db.conn.QueryRow(
		"INSERT INTO parties (external_id, title, host_id, video_ref, visibility, "+
			"max_participants, co_host_allowed, host_reclaim_on_resume, "+
			"scheduled_start, scheduled_end, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) "+
			"RETURNING id, external_id, title, host_id, video_ref, visibility, "+
			"max_participants, co_host_allowed, host_reclaim_on_resume, "+
			"scheduled_start, scheduled_end, ended, created_at",
		params.ExternalId,
		params.Title,
		params.HostId,
		params.VideoRef,
		params.Visibility,
		params.MaxParticipants,
		params.CoHostAllowed,
		params.HostReclaimOnResume,
		params.ScheduledStart,
		params.ScheduledEnd,
		time.Now().UTC(),
	)

	var p Party
	err := res.Scan(
		&p.Id,
		&p.ExternalId,
		&p.Title,
		&p.HostId,
		&p.VideoRef,
		&p.Visibility,
		&p.MaxParticipants,
		&p.CoHostAllowed,
		&p.HostReclaimOnResume,
		&p.ScheduledStart,
		&p.ScheduledEnd,
		&p.Ended,
		&p.CreatedAt,
	)

	return p, err
}

func (db *PgPartyRepository) GetPartyByExternalId(externalId string) (Party, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, title, host_id, video_ref, visibility, "+
			"max_participants, co_host_allowed, host_reclaim_on_resume, "+
			"scheduled_start, scheduled_end, ended, created_at "+
			"FROM parties WHERE external_id = $1 LIMIT 1",
		externalId,
	)

	var p Party
	err := row.Scan(
		&p.Id,
		&p.ExternalId,
		&p.Title,
		&p.HostId,
		&p.VideoRef,
		&p.Visibility,
		&p.MaxParticipants,
		&p.CoHostAllowed,
		&p.HostReclaimOnResume,
		&p.ScheduledStart,
		&p.ScheduledEnd,
		&p.Ended,
		&p.CreatedAt,
	)

	return p, err
}

func (db *PgPartyRepository) ListPartiesByHost(hostId int) ([]Party, error) {
	rows, err := db.conn.Query(
		"SELECT id, external_id, title, host_id, video_ref, visibility, "+
			"max_participants, co_host_allowed, host_reclaim_on_resume, "+
			"scheduled_start, scheduled_end, ended, created_at "+
			"FROM parties WHERE host_id = $1 ORDER BY created_at DESC",
		hostId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parties []Party
	for rows.Next() {
		var p Party
		if err := rows.Scan(
			&p.Id,
			&p.ExternalId,
			&p.Title,
			&p.HostId,
			&p.VideoRef,
			&p.Visibility,
			&p.MaxParticipants,
			&p.CoHostAllowed,
			&p.HostReclaimOnResume,
			&p.ScheduledStart,
			&p.ScheduledEnd,
			&p.Ended,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		parties = append(parties, p)
	}

	return parties, rows.Err()
}

func (db *PgPartyRepository) EndParty(id int) error {
	_, err := db.conn.Exec(
		"UPDATE parties SET ended = TRUE, updated_at = $2 WHERE id = $1",
		id,
		time.Now().UTC(),
	)

	return err
}
