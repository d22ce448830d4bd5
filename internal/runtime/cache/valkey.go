package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

// ValkeyConfig carries the connection settings for the valkey backend.
type ValkeyConfig struct {
	Address  string
	Username string
	Password string
	DB       int
}

type valkeyStore struct {
	client valkey.Client
	ttls   TTLs
}

// NewValkey connects to a valkey server and verifies it with a ping before
// handing the backend to the runtime. TTLs are enforced server-side via
// per-key expirations, so lookups of expired entries miss without any local
// bookkeeping.
func NewValkey(cfg ValkeyConfig, ttls TTLs) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: valkey address required")
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: valkey ping: %w", err)
	}

	return &valkeyStore{client: client, ttls: ttls}, nil
}

func (s *valkeyStore) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: valkey get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: valkey get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: valkey unmarshal: %w", err)
	}
	return entry, true, nil
}

func (s *valkeyStore) Set(ctx context.Context, key string, value []byte, category string) error {
	now := time.Now().UTC()
	ttl := s.ttls.For(category)
	entry := Entry{Value: value, StoredAt: now, ExpiresAt: now.Add(ttl)}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: valkey marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(key).Value(string(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: valkey set: %w", err)
	}
	return nil
}

func (s *valkeyStore) Size(ctx context.Context) (int64, error) {
	resp := s.client.Do(ctx, s.client.B().Dbsize().Build())
	size, err := resp.ToInt64()
	if err != nil {
		return 0, fmt.Errorf("cache: valkey dbsize: %w", err)
	}
	return size, nil
}

func (s *valkeyStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
