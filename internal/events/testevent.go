package events

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"streamhub/internal/identity"
	logx "streamhub/pkg/logx"
)

var ErrEmptyTest = errors.New("test event: type required")

// countRanges are the inclusive ranges for random counts of count-carrying
// types.
var countRanges = map[string][2]int{
	TypeCheer:         {1, 5000},
	TypeRaid:          {1, 500},
	TypeResub:         {2, 60},
	TypeSubGift:       {1, 1},
	TypeCommunityGift: {1, 50},
	TypeDonation:      {1, 100},
}

// ParseTest splits "eventType [user] [count-or-text...]". A numeric token
// after the user is the count; the remainder is the text.
func (p *Processor) ParseTest(text string) (RawEvent, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return RawEvent{}, ErrEmptyTest
	}
	ev := RawEvent{Type: strings.ToLower(fields[0]), IsTest: true}
	user := p.owner.Load().name
	rest := fields[1:]
	if len(rest) > 0 {
		user = strings.TrimPrefix(rest[0], "@")
		rest = rest[1:]
	}
	if user == "" {
		user = "tester"
	}
	ev.User = identity.Name(user)
	ev.Sender = user

	if len(rest) > 0 {
		if n, err := strconv.ParseInt(rest[0], 10, 64); err == nil {
			ev.Count = n
			rest = rest[1:]
		}
	}
	if ev.Count == 0 {
		if r, ok := countRanges[ev.Type]; ok {
			ev.Count = int64(r[0] + p.intN(r[1]-r[0]+1))
		}
	}
	ev.Text = strings.Join(rest, " ")
	return ev, nil
}

// ProcessTest runs a synthetic event through the pipeline. Test events are
// broadcast and announced but never persisted.
func (p *Processor) ProcessTest(ctx context.Context, text string) (Outcome, error) {
	ev, err := p.ParseTest(text)
	if err != nil {
		return Outcome{}, err
	}
	ev.Timestamp = p.now()
	p.log.Info("test event", logx.String("type", ev.Type), logx.String("user", ev.Sender), logx.Int64("count", ev.Count))
	return p.Process(ctx, ev), nil
}
