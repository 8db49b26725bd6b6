package server

import (
	"fmt"
	"time"
)

const (
	minPollOptions = 2
	maxPollOptions = 10
	maxQuestionLen = 256
)

type PollOption struct {
	Id    int    `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// PollInfo is the broadcastable view of a poll: option tallies without
// individual ballots.
type PollInfo struct {
	Id       string       `json:"id"`
	Question string       `json:"question"`
	Options  []PollOption `json:"options"`
	ClosesAt time.Time    `json:"closes_at"`
}

// poll is the room's single active widget. Ballots are keyed by user
// id; a later vote from the same user replaces the earlier one.
type poll struct {
	id       string
	question string
	options  []string
	closesAt time.Time
	votes    map[int]int
}

func newPoll(id, question string, options []string, closesAt time.Time) (*poll, *intentError) {
	if question == "" || len(question) > maxQuestionLen {
		return nil, &intentError{ReasonValidation, "poll question must be between 1 and 256 characters"}
	}
	if len(options) < minPollOptions || len(options) > maxPollOptions {
		return nil, &intentError{ReasonValidation, fmt.Sprintf("polls must have between %d and %d options", minPollOptions, maxPollOptions)}
	}
	for _, opt := range options {
		if opt == "" {
			return nil, &intentError{ReasonValidation, "poll options cannot be empty"}
		}
	}

	return &poll{
		id:       id,
		question: question,
		options:  options,
		closesAt: closesAt,
		votes:    make(map[int]int),
	}, nil
}

// vote records or replaces a user's ballot.
func (p *poll) vote(userId, optionId int) *intentError {
	if optionId < 0 || optionId >= len(p.options) {
		return &intentError{ReasonValidation, fmt.Sprintf("unknown option %d", optionId)}
	}

	p.votes[userId] = optionId
	return nil
}

func (p *poll) info() PollInfo {
	options := make([]PollOption, len(p.options))
	for i, text := range p.options {
		options[i] = PollOption{Id: i, Text: text}
	}
	for _, optionId := range p.votes {
		options[optionId].Votes++
	}

	return PollInfo{
		Id:       p.id,
		Question: p.question,
		Options:  options,
		ClosesAt: p.closesAt,
	}
}
