package settings

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
)

const DefaultConsulKey = "ardupilot-manager/settings"

// ConsulStore keeps the document as a single Consul KV value.
type ConsulStore struct {
	cli *consulapi.Client
	key string
}

func NewConsulStore(addr, key string) (*ConsulStore, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	if key == "" {
		key = DefaultConsulKey
	}
	return &ConsulStore{cli: cli, key: key}, nil
}

func (s *ConsulStore) Load() (*Document, error) {
	kv, _, err := s.cli.KV().Get(s.key, nil)
	if err != nil {
		return nil, fmt.Errorf("consul get %s: %w", s.key, err)
	}
	if kv == nil {
		return nil, fmt.Errorf("consul key %s: %w", s.key, ErrNotFound)
	}
	return ParseDocument(kv.Value)
}

func (s *ConsulStore) Save(doc *Document) error {
	_, err := s.cli.KV().Put(&consulapi.KVPair{Key: s.key, Value: doc.Bytes()}, nil)
	if err != nil {
		return fmt.Errorf("consul put %s: %w", s.key, err)
	}
	return nil
}
