package database

import (
	"database/sql"
	"time"
)

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Party struct {
	Id                  int
	ExternalId          string
	Title               string
	HostId              int
	VideoRef            string
	Visibility          string
	MaxParticipants     int
	CoHostAllowed       bool
	HostReclaimOnResume bool
	ScheduledStart      sql.NullTime
	ScheduledEnd        sql.NullTime
	Ended               bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type UpdateAccountParams struct {
	UserId       int
	Username     string
	PasswordHash string
}

type CreatePartyParams struct {
	Title               string
	ExternalId          string
	HostId              int
	VideoRef            string
	Visibility          string
	MaxParticipants     int
	CoHostAllowed       bool
	HostReclaimOnResume bool
	ScheduledStart      sql.NullTime
	ScheduledEnd        sql.NullTime
}
