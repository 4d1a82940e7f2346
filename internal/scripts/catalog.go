package scripts

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

//go:embed lua
var luaFS embed.FS

// Category is the first level of the script namespace.
type Category string

// Script categories.
const (
	CategoryAcquire   Category = "acquire"
	CategorySemaphore Category = "semaphore"
	CategoryQueue     Category = "queue"
	CategoryMarket    Category = "market"
)

var (
	// ErrNotFound is returned when no script exists for (category, name).
	ErrNotFound = errors.New("scripts: script not found")
	// ErrUnknownReply marks a script reply code the caller does not
	// recognize. This is a programming fault, not a store fault.
	ErrUnknownReply = errors.New("scripts: unknown reply code")
)

// Catalog resolves (category, name) pairs into loaded scripts. Loads are
// cached; the cache only affects latency, not correctness.
type Catalog struct {
	mu    sync.Mutex
	cache map[string]*Script
}

// NewCatalog returns an empty catalog backed by the embedded sources.
func NewCatalog() *Catalog {
	return &Catalog{cache: make(map[string]*Script)}
}

// Load resolves a script by category and file name (without extension).
func (c *Catalog) Load(cat Category, name string) (*Script, error) {
	if strings.ContainsAny(name, "/\\.") {
		return nil, fmt.Errorf("%w: invalid name %q", ErrNotFound, name)
	}
	key := string(cat) + "/" + name
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.cache[key]; ok {
		return s, nil
	}
	src, err := luaFS.ReadFile("lua/" + key + ".lua")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	s := &Script{
		category: cat,
		name:     name,
		script:   redis.NewScript(string(src)),
	}
	c.cache[key] = s
	return s, nil
}

// Script is a loaded, store-executable atomic operation.
type Script struct {
	category Category
	name     string
	script   *redis.Script
}

// Name returns the script's catalog identity as "category/name".
func (s *Script) Name() string { return string(s.category) + "/" + s.name }

// Run executes the script against the given client. EVALSHA is tried first
// and transparently falls back to EVAL when the server does not have the
// script cached.
func (s *Script) Run(ctx context.Context, c redis.Scripter, keys []string, args ...interface{}) (Reply, error) {
	raw, err := s.script.Run(ctx, c, keys, args...).Result()
	if err != nil {
		return Reply{}, fmt.Errorf("scripts: run %s: %w", s.Name(), err)
	}
	return Reply{raw: raw}, nil
}

// UnknownReply builds the fatal error for an unrecognized result code.
func (s *Script) UnknownReply(code string) error {
	return fmt.Errorf("%w: %s returned %q", ErrUnknownReply, s.Name(), code)
}

// Reply is a script's structured result. The only required field is the
// result code: either the whole string reply, or the first element of an
// array reply.
type Reply struct {
	raw interface{}
}

// Code returns the reply's discriminating result code.
func (r Reply) Code() string {
	switch v := r.raw.(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

// Values returns the trailing elements of an array reply, if any.
func (r Reply) Values() []interface{} {
	if v, ok := r.raw.([]interface{}); ok && len(v) > 1 {
		return v[1:]
	}
	return nil
}
