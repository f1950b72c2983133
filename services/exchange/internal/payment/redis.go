package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/safe"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
)

const (
	defaultRedisPrefix = "enz:token:"
	maxWatchRetries    = 8
)

// RedisToken keeps token balances and allowances in Redis so several
// exchange replicas and the seed command share one ledger. Updates run in
// WATCH/MULTI transactions and are retried on conflict.
type RedisToken struct {
	client  *redis.Client
	address engine.Address
	spender engine.Address
	prefix  string
}

func NewRedisToken(client *redis.Client, address, spender engine.Address, prefix string) *RedisToken {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisToken{
		client:  client,
		address: address,
		spender: spender,
		prefix:  prefix,
	}
}

func (t *RedisToken) Address() engine.Address {
	return t.address
}

func (t *RedisToken) balanceKey(account engine.Address) string {
	return t.prefix + "bal:" + string(account)
}

func (t *RedisToken) allowanceKey(owner engine.Address) string {
	return t.prefix + "allow:" + string(owner) + ":" + string(t.spender)
}

func (t *RedisToken) BalanceOf(ctx context.Context, account engine.Address) (decimal.Decimal, error) {
	return readAmount(ctx, t.client, t.balanceKey(account))
}

func (t *RedisToken) Allowance(ctx context.Context, owner engine.Address) (decimal.Decimal, error) {
	return readAmount(ctx, t.client, t.allowanceKey(owner))
}

func (t *RedisToken) Mint(ctx context.Context, to engine.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	key := t.balanceKey(to)
	return t.update(ctx, []string{key}, func(tx *redis.Tx) (writes, error) {
		bal, err := readAmount(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		next, err := safe.Add(bal, amount)
		if err != nil {
			return nil, err
		}
		return writes{key: next}, nil
	})
}

func (t *RedisToken) Approve(ctx context.Context, owner engine.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	return t.client.Set(ctx, t.allowanceKey(owner), safe.Format(amount), 0).Err()
}

func (t *RedisToken) TransferFrom(ctx context.Context, from, to engine.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	allowKey := t.allowanceKey(from)
	fromKey, toKey := t.balanceKey(from), t.balanceKey(to)
	return t.update(ctx, []string{allowKey, fromKey, toKey}, func(tx *redis.Tx) (writes, error) {
		allowance, err := readAmount(ctx, tx, allowKey)
		if err != nil {
			return nil, err
		}
		if allowance.LessThan(amount) {
			return nil, ErrInsufficientAllowance
		}
		w, err := stageMove(ctx, tx, fromKey, toKey, amount)
		if err != nil {
			return nil, err
		}
		w[allowKey] = allowance.Sub(amount)
		return w, nil
	})
}

func (t *RedisToken) Transfer(ctx context.Context, to engine.Address, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	fromKey, toKey := t.balanceKey(t.spender), t.balanceKey(to)
	return t.update(ctx, []string{fromKey, toKey}, func(tx *redis.Tx) (writes, error) {
		return stageMove(ctx, tx, fromKey, toKey, amount)
	})
}

// writes maps keys to the amounts a transaction sets.
type writes map[string]decimal.Decimal

func stageMove(ctx context.Context, tx *redis.Tx, fromKey, toKey string, amount decimal.Decimal) (writes, error) {
	fromBal, err := readAmount(ctx, tx, fromKey)
	if err != nil {
		return nil, err
	}
	if fromBal.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}
	if fromKey == toKey {
		return writes{}, nil
	}
	toBal, err := readAmount(ctx, tx, toKey)
	if err != nil {
		return nil, err
	}
	next, err := safe.Add(toBal, amount)
	if err != nil {
		return nil, err
	}
	return writes{fromKey: fromBal.Sub(amount), toKey: next}, nil
}

// update reads keys under WATCH through stage and queues the writes it
// returns in MULTI. The transaction is retried when another client touched a
// watched key.
func (t *RedisToken) update(ctx context.Context, keys []string, stage func(tx *redis.Tx) (writes, error)) error {
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := t.client.Watch(ctx, func(tx *redis.Tx) error {
			w, err := stage(tx)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for key, amount := range w {
					pipe.Set(ctx, key, safe.Format(amount), 0)
				}
				return nil
			})
			return err
		}, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func readAmount(ctx context.Context, c redis.Cmdable, key string) (decimal.Decimal, error) {
	raw, err := c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	amount, err := safe.ParseAmount(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt amount at %s: %w", key, err)
	}
	return amount, nil
}
