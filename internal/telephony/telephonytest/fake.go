// Package telephonytest provides an in-memory telephony.Provider for tests.
package telephonytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dialer-platform/internal/telephony"
)

// FakeProvider records every request and hands out sequential call ids.
// Failures can be scripted per destination number or globally.
type FakeProvider struct {
	ProviderName string

	mu        sync.Mutex
	seq       int
	placed    []telephony.OutboundCallRequest
	ended     []string
	transfers map[string]string
	status    map[string]telephony.Signal

	// FailPlace makes every PlaceOutboundCall fail.
	FailPlace bool
	// FailTo fails placements to these numbers only.
	FailTo map[string]bool
	// FailEnd makes EndCall fail; local state must still move on.
	FailEnd bool
	// Block holds placements until the context ends (timeout tests).
	Block bool
}

func New() *FakeProvider {
	return &FakeProvider{ProviderName: "fake", transfers: map[string]string{}, status: map[string]telephony.Signal{}, FailTo: map[string]bool{}}
}

func (f *FakeProvider) Name() string {
	if f.ProviderName == "" {
		return "fake"
	}
	return f.ProviderName
}

func (f *FakeProvider) PlaceOutboundCall(ctx context.Context, req telephony.OutboundCallRequest) (telephony.OutboundCallResult, error) {
	f.mu.Lock()
	block := f.Block
	fail := f.FailPlace || f.FailTo[req.To]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return telephony.OutboundCallResult{}, &telephony.ProviderError{Provider: f.Name(), Op: "place", Err: ctx.Err()}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	if fail {
		return telephony.OutboundCallResult{}, &telephony.ProviderError{Provider: f.Name(), Op: "place", StatusCode: 503, Err: errors.New("scripted failure")}
	}
	f.seq++
	id := fmt.Sprintf("%s-call-%d", f.Name(), f.seq)
	f.status[id] = telephony.SignalQueued
	return telephony.OutboundCallResult{ProviderCallID: id, Signal: telephony.SignalQueued}, nil
}

func (f *FakeProvider) EndCall(ctx context.Context, providerCallID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, providerCallID)
	if f.FailEnd {
		return &telephony.ProviderError{Provider: f.Name(), Op: "end", Err: errors.New("scripted failure")}
	}
	f.status[providerCallID] = telephony.SignalCompleted
	return nil
}

func (f *FakeProvider) TransferCall(ctx context.Context, providerCallID, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers[providerCallID] = target
	return nil
}

func (f *FakeProvider) QueryStatus(ctx context.Context, providerCallID string) (telephony.Signal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.status[providerCallID]
	if !ok {
		return telephony.SignalUnknown, &telephony.ProviderError{Provider: f.Name(), Op: "status", StatusCode: 404, Err: errors.New("no such call")}
	}
	return s, nil
}

// SetFailPlace toggles global placement failure under the lock.
func (f *FakeProvider) SetFailPlace(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailPlace = v
}

// Placed returns a copy of all placement requests, failed ones included.
func (f *FakeProvider) Placed() []telephony.OutboundCallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telephony.OutboundCallRequest(nil), f.placed...)
}

func (f *FakeProvider) Ended() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

func (f *FakeProvider) TransferTarget(providerCallID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transfers[providerCallID]
}
