package schema

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator produces values for members tagged with generator:<name>.
// Implementations must be safe for concurrent use.
type IDGenerator interface {
	Generate() (any, error)
	Type() string
}

// UUIDGenerator generates random (v4) UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) Generate() (any, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}
	return id, nil
}

func (UUIDGenerator) Type() string { return "uuid" }

// ULIDGenerator generates monotonic ULIDs.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *ULIDGenerator) Generate() (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), g.entropy)
	if err != nil {
		return nil, fmt.Errorf("generate ulid: %w", err)
	}
	return id, nil
}

func (g *ULIDGenerator) Type() string { return "ulid" }

// SnowflakeGenerator generates 63-bit time ordered integers:
// 41 bits of milliseconds since 2023-01-01, 10 bits machine, 12 bits sequence.
type SnowflakeGenerator struct {
	mu        sync.Mutex
	machineID uint64
	sequence  uint64
	lastTime  uint64
	epoch     uint64
}

func NewSnowflakeGenerator(machineID uint64) *SnowflakeGenerator {
	return &SnowflakeGenerator{
		machineID: machineID & 0x3FF,
		epoch:     uint64(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()),
	}
}

func (g *SnowflakeGenerator) Generate() (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := uint64(time.Now().UnixMilli())
	if now < g.lastTime {
		return nil, fmt.Errorf("generate snowflake: clock moved backwards")
	}
	if now == g.lastTime {
		g.sequence = (g.sequence + 1) & 0xFFF
		if g.sequence == 0 {
			for now <= g.lastTime {
				now = uint64(time.Now().UnixMilli())
			}
		}
	} else {
		g.sequence = 0
	}
	g.lastTime = now
	return int64(((now - g.epoch) << 22) | (g.machineID << 12) | g.sequence), nil
}

func (g *SnowflakeGenerator) Type() string { return "snowflake" }

const nanoAlphabet = "_-0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NanoIDGenerator generates URL-safe random strings.
type NanoIDGenerator struct{ size int }

func NewNanoIDGenerator(size int) NanoIDGenerator {
	if size <= 0 {
		size = 21
	}
	return NanoIDGenerator{size: size}
}

func (g NanoIDGenerator) Generate() (any, error) {
	buf := make([]byte, g.size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate nanoid: %w", err)
	}
	for i, b := range buf {
		buf[i] = nanoAlphabet[b&63]
	}
	return string(buf), nil
}

func (g NanoIDGenerator) Type() string { return "nanoid" }

var generators = struct {
	sync.RWMutex
	byName map[string]IDGenerator
}{byName: map[string]IDGenerator{
	"uuid":      UUIDGenerator{},
	"ulid":      NewULIDGenerator(),
	"nanoid":    NewNanoIDGenerator(21),
	"snowflake": NewSnowflakeGenerator(1),
}}

// RegisterGenerator adds or replaces a named generator.
func RegisterGenerator(name string, g IDGenerator) {
	generators.Lock()
	defer generators.Unlock()
	generators.byName[name] = g
}

// LookupGenerator returns the generator registered under name.
func LookupGenerator(name string) (IDGenerator, bool) {
	generators.RLock()
	defer generators.RUnlock()
	g, ok := generators.byName[name]
	return g, ok
}
