// Package convo keeps the per-chat conversation state of multi-step
// flows in Redis. No database session survives between steps; the
// ledger only ever sees complete commands.
package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Steps of the multi-step flows.
const (
	StepNone = ""

	StepRegisterLastName   = "register_last_name"
	StepRegisterFirstName  = "register_first_name"
	StepRegisterPatronymic = "register_patronymic"
	StepRegisterEmail      = "register_email"

	StepTopUpAmount    = "top_up_amount"
	StepTransferCard   = "transfer_card"
	StepTransferAmount = "transfer_amount"
)

// State is what the bot is waiting for from a chat and the fields
// already collected.
type State struct {
	Step   string            `json:"step"`
	Fields map[string]string `json:"fields,omitempty"`
}

// With returns a copy of the state with the field set.
func (s State) With(key, value string) State {
	fields := make(map[string]string, len(s.Fields)+1)
	for k, v := range s.Fields {
		fields[k] = v
	}
	fields[key] = value
	return State{Step: s.Step, Fields: fields}
}

// Store persists conversation state in Redis with a TTL, so an
// abandoned flow expires instead of trapping the chat.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func key(chatID int64) string {
	return fmt.Sprintf("convo:%d", chatID)
}

// Get returns the chat's state, or an empty state when none is stored.
func (s *Store) Get(ctx context.Context, chatID int64) (State, error) {
	raw, err := s.rdb.Get(ctx, key(chatID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("get state: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

func (s *Store) Set(ctx context.Context, chatID int64, st State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.rdb.Set(ctx, key(chatID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, chatID int64) error {
	if err := s.rdb.Del(ctx, key(chatID)).Err(); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}
