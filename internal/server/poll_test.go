package server

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_newPoll(t *testing.T) {
	closesAt := Now().Add(time.Minute)

	t.Run("valid poll", func(t *testing.T) {
		p, err := newPoll("p1", "which scene?", []string{"A", "B"}, closesAt)
		assert.Nil(t, err, "expected valid poll to be accepted")
		assert.NotNil(t, p)
		assert.Equal(t, "p1", p.id)
		assert.Equal(t, closesAt, p.closesAt)
	})

	t.Run("empty question", func(t *testing.T) {
		_, err := newPoll("p1", "", []string{"A", "B"}, closesAt)
		assert.NotNil(t, err, "expected empty question to be rejected")
		assert.Equal(t, ReasonValidation, err.reason)
	})

	t.Run("question too long", func(t *testing.T) {
		_, err := newPoll("p1", strings.Repeat("q", maxQuestionLen+1), []string{"A", "B"}, closesAt)
		assert.NotNil(t, err, "expected oversized question to be rejected")
	})

	t.Run("too few options", func(t *testing.T) {
		_, err := newPoll("p1", "q", []string{"A"}, closesAt)
		assert.NotNil(t, err, "expected single option to be rejected")
	})

	t.Run("too many options", func(t *testing.T) {
		options := make([]string, maxPollOptions+1)
		for i := range options {
			options[i] = "opt"
		}
		_, err := newPoll("p1", "q", options, closesAt)
		assert.NotNil(t, err, "expected too many options to be rejected")
	})

	t.Run("empty option", func(t *testing.T) {
		_, err := newPoll("p1", "q", []string{"A", ""}, closesAt)
		assert.NotNil(t, err, "expected empty option to be rejected")
	})
}

func Test_poll_vote(t *testing.T) {
	t.Run("latest vote wins", func(t *testing.T) {
		p, err := newPoll("p1", "q", []string{"A", "B"}, Now().Add(time.Minute))
		assert.Nil(t, err)

		assert.Nil(t, p.vote(1, 0))
		assert.Nil(t, p.vote(2, 0))
		assert.Nil(t, p.vote(3, 1))
		// user 3 changes their mind; the earlier ballot is replaced
		assert.Nil(t, p.vote(3, 0))

		info := p.info()
		assert.Equal(t, 3, info.Options[0].Votes, "expected three ballots for option A")
		assert.Equal(t, 0, info.Options[1].Votes, "expected replaced ballot removed from option B")
	})

	t.Run("unknown option rejected", func(t *testing.T) {
		p, _ := newPoll("p1", "q", []string{"A", "B"}, Now().Add(time.Minute))

		err := p.vote(1, 2)
		assert.NotNil(t, err, "expected out-of-range option to be rejected")
		assert.Equal(t, ReasonValidation, err.reason)

		err = p.vote(1, -1)
		assert.NotNil(t, err, "expected negative option to be rejected")
	})
}

func Test_poll_info(t *testing.T) {
	p, _ := newPoll("p1", "q", []string{"A", "B", "C"}, Now().Add(time.Minute))
	p.vote(1, 1)

	info := p.info()
	assert.Equal(t, "p1", info.Id)
	assert.Equal(t, "q", info.Question)
	assert.Len(t, info.Options, 3)
	for i, opt := range info.Options {
		assert.Equal(t, i, opt.Id, "expected option ids to be positional")
	}
	assert.Equal(t, 0, info.Options[0].Votes)
	assert.Equal(t, 1, info.Options[1].Votes)
}
