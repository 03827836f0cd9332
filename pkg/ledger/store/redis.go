package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tollgate-hq/meridian/pkg/ledger"
)

// chargeScript is the server-side port of ledger.ApplyCharge. Running the
// read-check-write sequence as one Lua script keyed by the principal makes
// it atomic inside Redis with no client-side race window - the same shape
// as a database stored procedure.
//
// KEYS[1] record hash, KEYS[2] per-model cost hash.
// ARGV: model, amount, now (unix ms).
//
// Reply: {code, would_be_total, reset, record_fields, model_fields} where
// code is 1 accepted / 0 rejected / -1 no record / -2 suspended. Floats
// travel as strings in plain decimal notation: Lua replies truncate
// numbers to integers, and tonumber cannot be trusted with exponent
// notation on every Lua runtime. The cap epsilon matches
// ledger.ApplyCharge.
const chargeScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {-1}
end
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'active' then
  return {-2}
end
local budget = tonumber(redis.call('HGET', KEYS[1], 'total_budget'))
local current = tonumber(redis.call('HGET', KEYS[1], 'current_cost'))
local window_start = tonumber(redis.call('HGET', KEYS[1], 'window_start'))
local duration = redis.call('HGET', KEYS[1], 'duration')
local amount = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local eps = 0.000000001

local window = 86400000
if duration == 'weekly' then
  window = 604800000
elseif duration == 'monthly' then
  window = 2592000000
end

local reset = 0
if now - window_start >= window then
  reset = 1
  current = 0
end

local would_be = current + amount
if would_be > budget + eps then
  local rec = redis.call('HGETALL', KEYS[1])
  local models = redis.call('HGETALL', KEYS[2])
  return {0, string.format('%.17f', would_be), 0, cjson.encode(rec), cjson.encode(models)}
end

if reset == 1 then
  redis.call('DEL', KEYS[2])
  redis.call('HSET', KEYS[1], 'window_start', now)
end
redis.call('HSET', KEYS[1], 'current_cost', string.format('%.17f', would_be), 'updated_at', now)
redis.call('HINCRBYFLOAT', KEYS[2], ARGV[1], ARGV[2])

local rec = redis.call('HGETALL', KEYS[1])
local models = redis.call('HGETALL', KEYS[2])
return {1, string.format('%.17f', would_be), reset, cjson.encode(rec), cjson.encode(models)}
`

// createScript inserts the record fields only if no record exists.
const createScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`

// setStatusScript flips the administrative status if the record exists.
const setStatusScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
return 1
`

// RedisStore implements ledger.Store on Redis for distributed
// deployments: every proxy instance charges against the same records, and
// atomicity comes from Redis executing each Lua script single-threaded
// per key.
//
// Layout: one hash per principal holding the record scalars, plus a
// companion hash ("<key>:models") for the per-model cost breakdown.
// Timestamps are stored as unix milliseconds.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string

	charge    *redis.Script
	create    *redis.Script
	setStatus *redis.Script
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Password is the optional AUTH password.
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix namespaces all ledger keys. Default: "meridian:ledger:"
	KeyPrefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to connect to redis: %v", ledger.ErrStoreUnavailable, err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "meridian:ledger:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		charge:    redis.NewScript(chargeScript),
		create:    redis.NewScript(createScript),
		setStatus: redis.NewScript(setStatusScript),
	}, nil
}

// NewRedisStoreWithClient wraps an existing client. Used by tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "meridian:ledger:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		charge:    redis.NewScript(chargeScript),
		create:    redis.NewScript(createScript),
		setStatus: redis.NewScript(setStatusScript),
	}
}

func (s *RedisStore) recordKey(principalID string) string {
	return s.keyPrefix + principalID
}

func (s *RedisStore) modelsKey(principalID string) string {
	return s.recordKey(principalID) + ":models"
}

// Get returns the record for a principal, or nil if absent. The two
// hashes are read in one MULTI/EXEC so the snapshot is consistent.
func (s *RedisStore) Get(ctx context.Context, principalID string) (*ledger.Record, error) {
	var recCmd, modelsCmd *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		recCmd = pipe.HGetAll(ctx, s.recordKey(principalID))
		modelsCmd = pipe.HGetAll(ctx, s.modelsKey(principalID))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load failed: %v", ledger.ErrStoreUnavailable, err)
	}

	fields := recCmd.Val()
	if len(fields) == 0 {
		return nil, nil
	}
	return recordFromHashes(fields, modelsCmd.Val())
}

// Create inserts rec only if no record exists for its principal.
func (s *RedisStore) Create(ctx context.Context, rec *ledger.Record) (bool, error) {
	args := recordToHashArgs(rec)
	res, err := s.create.Run(ctx, s.client, []string{s.recordKey(rec.PrincipalID)}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("%w: create failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return res == 1, nil
}

// Put unconditionally overwrites the record for rec's principal.
func (s *RedisStore) Put(ctx context.Context, rec *ledger.Record) error {
	recKey := s.recordKey(rec.PrincipalID)
	modelsKey := s.modelsKey(rec.PrincipalID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recKey, modelsKey)
		pipe.HSet(ctx, recKey, recordToHashArgs(rec)...)
		if len(rec.CostByModel) > 0 {
			modelArgs := make([]interface{}, 0, len(rec.CostByModel)*2)
			for model, cost := range rec.CostByModel {
				modelArgs = append(modelArgs, model, formatFloat(cost))
			}
			pipe.HSet(ctx, modelsKey, modelArgs...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: put failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// Charge executes one charge transition as a server-side script.
func (s *RedisStore) Charge(ctx context.Context, principalID string, args ledger.ChargeArgs) (*ledger.Outcome, error) {
	reply, err := s.charge.Run(ctx, s.client,
		[]string{s.recordKey(principalID), s.modelsKey(principalID)},
		args.Model,
		formatFloat(args.Amount),
		args.Now.UnixMilli(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("%w: charge script failed: %v", ledger.ErrStoreUnavailable, err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("%w: empty charge reply", ledger.ErrStoreUnavailable)
	}

	code, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected charge reply %v", ledger.ErrStoreUnavailable, reply[0])
	}
	switch code {
	case -1:
		return nil, ledger.ErrNoBudget
	case -2:
		return nil, ledger.ErrBudgetSuspended
	}

	if len(reply) < 5 {
		return nil, fmt.Errorf("%w: truncated charge reply", ledger.ErrStoreUnavailable)
	}

	wouldBe, err := strconv.ParseFloat(fmt.Sprint(reply[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad would-be total: %v", ledger.ErrStoreUnavailable, err)
	}
	reset, _ := reply[2].(int64)

	rec, err := recordFromScriptReply(fmt.Sprint(reply[3]), fmt.Sprint(reply[4]))
	if err != nil {
		return nil, err
	}

	return &ledger.Outcome{
		Record:       rec,
		Accepted:     code == 1,
		WouldBeTotal: wouldBe,
		Reset:        reset == 1,
	}, nil
}

// SetStatus atomically sets the administrative status of a record.
func (s *RedisStore) SetStatus(ctx context.Context, principalID string, status ledger.Status) error {
	res, err := s.setStatus.Run(ctx, s.client,
		[]string{s.recordKey(principalID)},
		string(status), time.Now().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("%w: status update failed: %v", ledger.ErrStoreUnavailable, err)
	}
	if res == 0 {
		return ledger.ErrNoBudget
	}
	return nil
}

// List scans the keyspace for ledger records.
func (s *RedisStore) List(ctx context.Context) ([]*ledger.Record, error) {
	var records []*ledger.Record
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":models") {
			continue
		}
		rec, err := s.Get(ctx, strings.TrimPrefix(key, s.keyPrefix))
		if err != nil {
			return nil, err
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return records, nil
}

// Delete removes a principal's record and its model breakdown.
func (s *RedisStore) Delete(ctx context.Context, principalID string) error {
	err := s.client.Del(ctx, s.recordKey(principalID), s.modelsKey(principalID)).Err()
	if err != nil {
		return fmt.Errorf("%w: delete failed: %v", ledger.ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// formatFloat renders a float for storage in Redis. Plain decimal
// notation only: the charge script reads these fields back with Lua's
// tonumber, which chokes on exponent notation on some runtimes, and an
// effectively-unlimited cap of 1e9 would otherwise be written as "1e+09".
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// recordToHashArgs flattens a record into HSET field/value pairs.
// The per-model breakdown lives in the companion hash, not here.
func recordToHashArgs(rec *ledger.Record) []interface{} {
	return []interface{}{
		"principal_id", rec.PrincipalID,
		"total_budget", formatFloat(rec.TotalBudget),
		"duration", string(rec.Duration),
		"current_cost", formatFloat(rec.CurrentCost),
		"window_start", rec.WindowStart.UnixMilli(),
		"status", string(rec.Status),
		"created_at", rec.CreatedAt.UnixMilli(),
		"updated_at", rec.UpdatedAt.UnixMilli(),
	}
}

// recordFromHashes rebuilds a record from the two hashes.
func recordFromHashes(fields map[string]string, models map[string]string) (*ledger.Record, error) {
	rec := &ledger.Record{
		PrincipalID: fields["principal_id"],
		Duration:    ledger.DurationClass(fields["duration"]),
		Status:      ledger.Status(fields["status"]),
		CostByModel: make(map[string]float64, len(models)),
	}

	var err error
	if rec.TotalBudget, err = strconv.ParseFloat(fields["total_budget"], 64); err != nil {
		return nil, fmt.Errorf("corrupt total_budget for %s: %w", rec.PrincipalID, err)
	}
	if rec.CurrentCost, err = strconv.ParseFloat(fields["current_cost"], 64); err != nil {
		return nil, fmt.Errorf("corrupt current_cost for %s: %w", rec.PrincipalID, err)
	}

	windowStart, err := strconv.ParseInt(fields["window_start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt window_start for %s: %w", rec.PrincipalID, err)
	}
	rec.WindowStart = time.UnixMilli(windowStart)

	if createdAt, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		rec.CreatedAt = time.UnixMilli(createdAt)
	}
	if updatedAt, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		rec.UpdatedAt = time.UnixMilli(updatedAt)
	}

	for model, cost := range models {
		parsed, err := strconv.ParseFloat(cost, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt model cost for %s/%s: %w", rec.PrincipalID, model, err)
		}
		rec.CostByModel[model] = parsed
	}
	return rec, nil
}

// recordFromScriptReply decodes the cjson-encoded HGETALL replies the
// charge script returns: flat arrays of alternating field/value strings.
func recordFromScriptReply(recJSON, modelsJSON string) (*ledger.Record, error) {
	fields, err := decodeFlatHash(recJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: bad record reply: %v", ledger.ErrStoreUnavailable, err)
	}
	models, err := decodeFlatHash(modelsJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: bad models reply: %v", ledger.ErrStoreUnavailable, err)
	}
	return recordFromHashes(fields, models)
}

func decodeFlatHash(encoded string) (map[string]string, error) {
	// cjson encodes an empty table as "{}" rather than "[]".
	if encoded == "{}" || encoded == "" {
		return map[string]string{}, nil
	}

	var flat []string
	if err := json.Unmarshal([]byte(encoded), &flat); err != nil {
		return nil, err
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd-length hash reply")
	}

	fields := make(map[string]string, len(flat)/2)
	for i := 0; i < len(flat); i += 2 {
		fields[flat[i]] = flat[i+1]
	}
	return fields, nil
}
