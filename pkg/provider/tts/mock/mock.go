// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio bytes to consumers and to verify
// which texts were synthesised:
//
//	p := &mock.Provider{Audio: []byte("pcm")}
//	rc, err := p.Synthesize(ctx, "hello")
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is the byte stream returned by every successful Synthesize call.
	Audio []byte

	// Err, if non-nil, is returned from Synthesize instead of a stream.
	Err error

	// Calls records every text passed to Synthesize, in order.
	Calls []string
}

// Synthesize records the call and returns the configured audio or error.
func (p *Provider) Synthesize(_ context.Context, text string) (io.ReadCloser, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, text)
	err := p.Err
	audio := p.Audio
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(audio)), nil
}

// CallCount returns the number of Synthesize invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
