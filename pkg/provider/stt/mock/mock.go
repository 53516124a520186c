// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to return controlled transcript text and to inspect which
// audio utterances were submitted:
//
//	p := &mock.Provider{Text: "hello there"}
//	text, err := p.Transcribe(ctx, pcm)
package mock

import (
	"context"
	"sync"

	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned from every successful Transcribe call. When Texts is
	// non-empty it takes precedence and entries are consumed in order, the
	// last one repeating once exhausted.
	Text  string
	Texts []string

	// Err, if non-nil, is returned from Transcribe instead of text.
	Err error

	// Calls records every PCM buffer passed to Transcribe, in order.
	Calls [][]byte

	served int
}

// Transcribe records the call and returns the configured text or error.
func (p *Provider) Transcribe(_ context.Context, pcm []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	p.Calls = append(p.Calls, buf)

	if p.Err != nil {
		return "", p.Err
	}
	if len(p.Texts) > 0 {
		idx := min(p.served, len(p.Texts)-1)
		p.served++
		return p.Texts[idx], nil
	}
	return p.Text, nil
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
