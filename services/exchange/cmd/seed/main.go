package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vvmafra/EnerTradeZK/libs/logging"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/config"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/engine"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/payment"
	"github.com/vvmafra/EnerTradeZK/services/exchange/internal/storage"
)

const (
	defaultSeller = "0x1111111111111111111111111111111111111111"
	defaultBuyer  = "0x2222222222222222222222222222222222222222"
)

var (
	depositAmount = decimal.NewFromInt(500)
	listingAmount = decimal.NewFromInt(100)
	listingPrice  = decimal.NewFromInt(50)
)

// seed deposits 500 units for the demo seller and lists 100 of them for 50
// payment units. With the redis payment adapter the demo buyer is also
// funded and approves the exchange, so the listing can be bought right away.
// Run it while the exchange service is stopped; the service reads state on
// start.
func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.App.Env != "dev" && cfg.App.Env != "test" {
		log.Fatalf("refusing to seed: ENZ_ENV must be 'dev' or 'test' (got '%s')", cfg.App.Env)
	}
	if !cfg.DB.Enabled {
		log.Fatalf("refusing to seed: database is disabled")
	}

	seller := engine.MustAddress(getEnv("ENZ_SEED_SELLER", defaultSeller))
	buyer := engine.MustAddress(getEnv("ENZ_SEED_BUYER", defaultBuyer))
	logger := logging.NewLogger(cfg.App.LogLevel, "seed", cfg.App.Env)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	store := storage.New(pool, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}
	snapshot, err := store.LoadSnapshot(ctx)
	if err != nil {
		log.Fatalf("load snapshot: %v", err)
	}

	tokenAddr := engine.MustAddress(cfg.Payment.TokenAddress)
	exchangeAddr := engine.MustAddress(cfg.Payment.ExchangeAddress)

	var token engine.TokenTransferAdapter = payment.NewMemoryToken(tokenAddr, exchangeAddr)
	if cfg.Payment.Adapter == config.PaymentRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		redisToken := payment.NewRedisToken(client, tokenAddr, exchangeAddr, cfg.Payment.Prefix)
		if err := fundBuyer(ctx, redisToken, buyer); err != nil {
			log.Fatalf("fund buyer: %v", err)
		}
		fmt.Printf("✓ Buyer %s funded with %s payment units\n", buyer, listingPrice)
		token = redisToken
	}

	exchange := engine.New(token, engine.WithJournal(store), engine.WithLogger(logger))
	if err := exchange.Restore(snapshot); err != nil {
		log.Fatalf("restore: %v", err)
	}

	if _, err := exchange.Deposit(ctx, seller, depositAmount); err != nil {
		log.Fatalf("deposit: %v", err)
	}
	fmt.Printf("✓ Seller %s deposited %s\n", seller, depositAmount)

	receipt, err := exchange.CreateListing(ctx, seller, listingAmount, listingPrice)
	if err != nil {
		log.Fatalf("create listing: %v", err)
	}
	fmt.Printf("✓ Listing %d: %s units for %s\n", receipt.Listing.ID, listingAmount, listingPrice)

	bal := exchange.GetBalance(seller)
	fmt.Printf("\nSeller balance: free=%s escrowed=%s\n", bal.Free, bal.Escrowed)
}

func fundBuyer(ctx context.Context, token *payment.RedisToken, buyer engine.Address) error {
	if err := token.Mint(ctx, buyer, listingPrice); err != nil {
		return err
	}
	allowance, err := token.Allowance(ctx, buyer)
	if err != nil {
		return err
	}
	return token.Approve(ctx, buyer, allowance.Add(listingPrice))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
