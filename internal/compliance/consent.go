package compliance

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ConsentService is the external yes/no consent signal. Recording mechanics
// live elsewhere; the dialer only asks.
type ConsentService interface {
	HasCallConsent(ctx context.Context, campaignID, phone string) (bool, error)
	HasRecordingConsent(ctx context.Context, campaignID, phone string) (bool, error)
}

// StaticConsent grants consent to an explicit set of numbers, or to everyone
// when AllowAll is set.
type StaticConsent struct {
	AllowAll bool

	mu        sync.RWMutex
	call      map[string]bool
	recording map[string]bool
}

func NewStaticConsent(allowAll bool) *StaticConsent {
	return &StaticConsent{AllowAll: allowAll, call: map[string]bool{}, recording: map[string]bool{}}
}

// Grant records consent for phones; recording consent implies call consent.
func (s *StaticConsent) Grant(ctx context.Context, recording bool, phones ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range phones {
		s.call[p] = true
		if recording {
			s.recording[p] = true
		}
	}
	return nil
}

func (s *StaticConsent) Revoke(ctx context.Context, phones ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range phones {
		delete(s.call, p)
		delete(s.recording, p)
	}
	return nil
}

func (s *StaticConsent) HasCallConsent(ctx context.Context, campaignID, phone string) (bool, error) {
	if s.AllowAll {
		return true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.call[phone], nil
}

func (s *StaticConsent) HasRecordingConsent(ctx context.Context, campaignID, phone string) (bool, error) {
	if s.AllowAll {
		return true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recording[phone], nil
}

// RedisConsent keeps consented numbers in two Redis sets shared by every
// dialer process. Recording consent implies call consent.
type RedisConsent struct {
	rdb          *redis.Client
	callKey      string
	recordingKey string
}

const DefaultConsentPrefix = "dialer:consent:"

func NewRedisConsent(rdb *redis.Client, prefix string) *RedisConsent {
	if prefix == "" {
		prefix = DefaultConsentPrefix
	}
	return &RedisConsent{rdb: rdb, callKey: prefix + "call", recordingKey: prefix + "recording"}
}

func (r *RedisConsent) HasCallConsent(ctx context.Context, campaignID, phone string) (bool, error) {
	return r.rdb.SIsMember(ctx, r.callKey, phone).Result()
}

func (r *RedisConsent) HasRecordingConsent(ctx context.Context, campaignID, phone string) (bool, error) {
	return r.rdb.SIsMember(ctx, r.recordingKey, phone).Result()
}

// Grant records consent for phones.
func (r *RedisConsent) Grant(ctx context.Context, recording bool, phones ...string) error {
	if len(phones) == 0 {
		return nil
	}
	members := toMembers(phones)
	pipe := r.rdb.TxPipeline()
	pipe.SAdd(ctx, r.callKey, members...)
	if recording {
		pipe.SAdd(ctx, r.recordingKey, members...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Revoke withdraws both call and recording consent for phones.
func (r *RedisConsent) Revoke(ctx context.Context, phones ...string) error {
	if len(phones) == 0 {
		return nil
	}
	members := toMembers(phones)
	pipe := r.rdb.TxPipeline()
	pipe.SRem(ctx, r.callKey, members...)
	pipe.SRem(ctx, r.recordingKey, members...)
	_, err := pipe.Exec(ctx)
	return err
}

// ConsentRegistry is a ConsentService that can also be edited through the API.
type ConsentRegistry interface {
	ConsentService
	Grant(ctx context.Context, recording bool, phones ...string) error
	Revoke(ctx context.Context, phones ...string) error
}

func toMembers(phones []string) []any {
	members := make([]any, len(phones))
	for i, p := range phones {
		members[i] = p
	}
	return members
}
