package gateway

import (
	"context"
	"errors"
	"sync"
)

// Call is one recorded Generate invocation.
type Call struct {
	Prompt            string
	SystemInstruction string
}

// Scripted replays canned replies in order. It stands in for a real
// provider in tests and local runs without model access.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call
}

// Reply is either a text or an error returned by Scripted.
type Reply struct {
	Text string
	Err  error
}

func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Texts is shorthand for a script of successful replies.
func Texts(texts ...string) *Scripted {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return NewScripted(replies...)
}

func (s *Scripted) Generate(ctx context.Context, userPrompt, systemInstruction string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Prompt: userPrompt, SystemInstruction: systemInstruction})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	return next.Text, next.Err
}

func (s *Scripted) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
