package market

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/redis/go-redis/v9"

	"github.com/rzbill/tradepost/internal/scripts"
	redisstore "github.com/rzbill/tradepost/internal/storage/redis"
	"github.com/rzbill/tradepost/pkg/log"
)

// Expected purchase outcomes. These are normal marketplace races, not
// faults: callers map them to user-facing no-op responses.
var (
	ErrSelfTransaction    = errors.New("market: buyer and seller are the same user")
	ErrItemNotFound       = errors.New("market: item not listed")
	ErrBuyerFundsNotFound = errors.New("market: buyer has no funds record")
	ErrFundsNotEnough     = errors.New("market: insufficient funds")
)

// UserKey returns the user record hash key.
func UserKey(userID string) string { return "tradepost:market:user:" + userID }

// InventoryKey returns the user inventory list key.
func InventoryKey(userID string) string { return "tradepost:market:inv:" + userID }

// ItemKey returns the listed item hash key.
func ItemKey(itemID string) string { return "tradepost:market:item:" + itemID }

// PricesKey is the market-wide price index zset.
const PricesKey = "tradepost:market:prices"

// Item is one marketplace listing. Price is a whole number of funds units;
// balances are integers and the purchase script moves funds with integer
// arithmetic.
type Item struct {
	ID       string
	Name     string
	SellerID string
	Price    float64
}

// Engine runs marketplace operations against the shared store.
type Engine struct {
	store    *redisstore.Store
	logger   log.Logger
	purchase *scripts.Script
}

// New builds an engine, resolving the purchase script up front.
func New(store *redisstore.Store, catalog *scripts.Catalog, logger log.Logger) (*Engine, error) {
	purchase, err := catalog.Load(scripts.CategoryMarket, "purchase")
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:    store,
		logger:   logger.WithComponent("market"),
		purchase: purchase,
	}, nil
}

// Deposit adds amount to a user's funds, creating the record if absent.
func (e *Engine) Deposit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, errors.New("market: negative deposit")
	}
	balance, err := e.store.Client().HIncrBy(ctx, UserKey(userID), "funds", amount).Result()
	if err != nil {
		return 0, fmt.Errorf("market: deposit for %s: %w", userID, err)
	}
	return balance, nil
}

// Funds returns a user's balance. A user with no funds record has zero funds
// but cannot buy: Purchase distinguishes the two.
func (e *Engine) Funds(ctx context.Context, userID string) (int64, error) {
	balance, err := e.store.Client().HGet(ctx, UserKey(userID), "funds").Int64()
	if redisstore.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("market: funds for %s: %w", userID, err)
	}
	return balance, nil
}

// Inventory lists the item names a user owns, in acquisition order.
func (e *Engine) Inventory(ctx context.Context, userID string) ([]string, error) {
	names, err := e.store.Client().LRange(ctx, InventoryKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("market: inventory for %s: %w", userID, err)
	}
	return names, nil
}

// ListItem publishes an item for sale. The item hash and its price index
// entry are written in one MULTI/EXEC so a reader never sees one without the
// other.
func (e *Engine) ListItem(ctx context.Context, item Item) error {
	if item.ID == "" || item.Name == "" || item.SellerID == "" {
		return errors.New("market: item id, name and sellerId are required")
	}
	if item.Price <= 0 {
		return errors.New("market: item price must be positive")
	}
	// a fractional price could never be bought: funds move via HINCRBY
	if item.Price != math.Trunc(item.Price) {
		return errors.New("market: item price must be a whole number of funds units")
	}
	_, err := e.store.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, ItemKey(item.ID), "name", item.Name, "sellerId", item.SellerID)
		pipe.ZAdd(ctx, PricesKey, redis.Z{Score: item.Price, Member: item.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("market: list item %s: %w", item.ID, err)
	}
	e.logger.Info("item listed",
		log.F("item", item.ID), log.F("seller", item.SellerID), log.F("price", item.Price))
	return nil
}

// PriceOf returns an item's asking price, or ErrItemNotFound.
func (e *Engine) PriceOf(ctx context.Context, itemID string) (float64, error) {
	price, err := e.store.Client().ZScore(ctx, PricesKey, itemID).Result()
	if redisstore.IsNotFound(err) {
		return 0, ErrItemNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("market: price of %s: %w", itemID, err)
	}
	return price, nil
}

// Purchase executes the exchange: debit the buyer, credit the seller, move
// the item name into the buyer's inventory, and retire the listing, all in
// one script run. Expected failures come back as the sentinel errors above;
// any other error is a store fault or an unrecognized script reply.
func (e *Engine) Purchase(ctx context.Context, buyerID, sellerID, itemID string) error {
	if buyerID == "" || sellerID == "" || itemID == "" {
		return errors.New("market: buyer, seller and item ids are required")
	}
	if buyerID == sellerID {
		return ErrSelfTransaction
	}
	reply, err := e.purchase.Run(ctx, e.store.Client(),
		[]string{UserKey(sellerID), UserKey(buyerID), InventoryKey(buyerID), ItemKey(itemID), PricesKey},
		buyerID, sellerID, itemID)
	if err != nil {
		return fmt.Errorf("market: purchase %s: %w", itemID, err)
	}
	switch reply.Code() {
	case "SUCCESS":
		e.logger.Info("purchase completed",
			log.F("item", itemID), log.F("buyer", buyerID), log.F("seller", sellerID))
		return nil
	case "ITEM_NOT_FOUND":
		e.logger.Info("purchase lost race or unknown item",
			log.F("item", itemID), log.F("buyer", buyerID))
		return ErrItemNotFound
	case "BUYER_FUNDS_NOT_FOUND":
		e.logger.Info("purchase by buyer without funds record",
			log.F("item", itemID), log.F("buyer", buyerID))
		return ErrBuyerFundsNotFound
	case "FUNDS_NOT_ENOUGH":
		e.logger.Info("purchase with insufficient funds",
			log.F("item", itemID), log.F("buyer", buyerID))
		return ErrFundsNotEnough
	default:
		return e.purchase.UnknownReply(reply.Code())
	}
}
