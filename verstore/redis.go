package verstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	c "github.com/opentide/casflight/codec"
)

// versionField is the reserved hash field holding the record version.
// Attr names must not collide with it.
const versionField = "__v"

var ErrNilClient = errors.New("verstore: nil redis client")

// patchScript performs the conditional write as one atomic step on the server:
// compare the stored version, apply the change pairs, bump the version, and
// return the patched hash.
//
// KEYS[1] record hash; ARGV[1] version field; ARGV[2] expected version;
// ARGV[3] new version; ARGV[4..] field/value pairs.
// Returns 0 when the record is missing, 1 on version conflict, otherwise the
// flattened HGETALL of the patched record.
var patchScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
  return 0
end
if cur ~= ARGV[2] then
  return 1
end
for i = 4, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return redis.call('HGETALL', KEYS[1])
`)

// createScript writes the initial record iff the key is vacant.
// KEYS[1] record hash; ARGV[1..] field/value pairs (version pair included).
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
for i = 1, #ARGV, 2 do
  redis.call('HSET', KEYS[1], ARGV[i], ARGV[i+1])
end
return 1
`)

// Redis stores each record as a hash under "rec:<ns>:<key>", with attr values
// serialized per field through a Codec[any] and the version kept as a plain
// decimal string so the Lua script can compare it.
type Redis struct {
	rdb         goredis.UniversalClient
	ns          string
	codec       c.Codec[any]
	closeClient bool
}

var _ Store = (*Redis)(nil)

type RedisConfig struct {
	Client      goredis.UniversalClient
	Namespace   string       // e.g. "user"; isolates keyspaces
	Codec       c.Codec[any] // nil => codec.JSON[any]
	CloseClient bool         // set true only if this store exclusively owns the client
}

func NewRedis(cfg RedisConfig) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Namespace == "" {
		return nil, errors.New("verstore: namespace is required")
	}
	cod := cfg.Codec
	if cod == nil {
		cod = c.JSON[any]{}
	}
	return &Redis{rdb: cfg.Client, ns: cfg.Namespace, codec: cod, closeClient: cfg.CloseClient}, nil
}

func (s *Redis) key(k string) string { return "rec:" + s.ns + ":" + k }

func (s *Redis) Get(ctx context.Context, key string) (Record, bool, error) {
	m, err := s.rdb.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return Record{}, false, err
	}
	if len(m) == 0 {
		return Record{}, false, nil
	}
	rec, err := s.decodeHash(key, m)
	if err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

func (s *Redis) Create(ctx context.Context, key string, attrs Attrs) (Record, error) {
	args, err := s.encodePairs(attrs)
	if err != nil {
		return Record{}, err
	}
	args = append(args, versionField, "1")
	res, err := createScript.Run(ctx, s.rdb, []string{s.key(key)}, args...).Result()
	if err != nil {
		return Record{}, err
	}
	if n, ok := res.(int64); !ok || n != 1 {
		return Record{}, ErrExists
	}
	return Record{Key: key, Version: 1, Attrs: clone(attrs)}, nil
}

func (s *Redis) Patch(ctx context.Context, key string, changes Attrs, expectedVersion int64) (Record, error) {
	args := make([]any, 0, 3+2*len(changes))
	args = append(args,
		versionField,
		strconv.FormatInt(expectedVersion, 10),
		strconv.FormatInt(expectedVersion+1, 10),
	)
	pairs, err := s.encodePairs(changes)
	if err != nil {
		return Record{}, err
	}
	args = append(args, pairs...)

	res, err := patchScript.Run(ctx, s.rdb, []string{s.key(key)}, args...).Result()
	if err != nil {
		return Record{}, err
	}
	switch v := res.(type) {
	case int64:
		if v == 0 {
			return Record{}, ErrNotFound
		}
		return Record{}, ErrVersionConflict
	case []any:
		m := make(map[string]string, len(v)/2)
		for i := 0; i+1 < len(v); i += 2 {
			f, fok := v[i].(string)
			val, vok := v[i+1].(string)
			if !fok || !vok {
				return Record{}, fmt.Errorf("verstore: unexpected patch reply shape for %q", key)
			}
			m[f] = val
		}
		return s.decodeHash(key, m)
	default:
		return Record{}, fmt.Errorf("verstore: unexpected patch reply %T for %q", res, key)
	}
}

func (s *Redis) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Redis) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func (s *Redis) encodePairs(attrs Attrs) ([]any, error) {
	out := make([]any, 0, 2*len(attrs))
	for k, v := range attrs {
		if k == versionField {
			return nil, fmt.Errorf("verstore: attr name %q is reserved", versionField)
		}
		b, err := s.codec.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("verstore: encode attr %q: %w", k, err)
		}
		out = append(out, k, string(b))
	}
	return out, nil
}

func (s *Redis) decodeHash(key string, m map[string]string) (Record, error) {
	rec := Record{Key: key, Attrs: make(Attrs, len(m)-1)}
	verRaw, ok := m[versionField]
	if !ok {
		return Record{}, fmt.Errorf("verstore: record %q has no version field", key)
	}
	ver, err := strconv.ParseInt(verRaw, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("verstore: record %q version parse: %w", key, err)
	}
	rec.Version = ver
	for f, raw := range m {
		if f == versionField {
			continue
		}
		v, err := s.codec.Decode([]byte(raw))
		if err != nil {
			return Record{}, fmt.Errorf("verstore: decode attr %q of %q: %w", f, key, err)
		}
		rec.Attrs[f] = v
	}
	return rec, nil
}
