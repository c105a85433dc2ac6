// Package transporttest provides in-memory chat and announcement sinks for tests.
package transporttest

import (
	"context"
	"sync"

	"streamhub/internal/transport"
)

// Recorder captures every line sent through it.
type Recorder struct {
	mu    sync.Mutex
	lines []transport.Line
	// Err, when set, is returned from every send.
	Err error
}

var _ transport.ChatSender = (*Recorder)(nil)

func (r *Recorder) record(l transport.Line) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.lines = append(r.lines, l)
	return nil
}

func (r *Recorder) SendAction(_ context.Context, text string) error {
	return r.record(transport.Line{Kind: transport.KindAction, Text: text})
}

func (r *Recorder) SendAnnouncement(_ context.Context, text string) error {
	return r.record(transport.Line{Kind: transport.KindAnnouncement, Text: text})
}

func (r *Recorder) SendReply(_ context.Context, to *transport.Message, text string) error {
	return r.record(transport.Line{Kind: transport.KindReply, Text: text, ReplyTo: to})
}

func (r *Recorder) Lines() []transport.Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Line(nil), r.lines...)
}

// Texts returns the text of every recorded line.
func (r *Recorder) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.lines))
	for _, l := range r.lines {
		out = append(out, l.Text)
	}
	return out
}

// Announcer captures external announcements.
type Announcer struct {
	Label string

	mu    sync.Mutex
	texts []string
}

var _ transport.Announcer = (*Announcer)(nil)

func (a *Announcer) Name() string {
	if a.Label == "" {
		return "test"
	}
	return a.Label
}

func (a *Announcer) Announce(_ context.Context, text string) error {
	a.mu.Lock()
	a.texts = append(a.texts, text)
	a.mu.Unlock()
	return nil
}

func (a *Announcer) Texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.texts...)
}
