package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/arkenvault/pileworks/internal/actor"
	"github.com/arkenvault/pileworks/internal/currency"
	"github.com/arkenvault/pileworks/internal/pricing"
)

// ErrVetoed is returned when a pre-trade hook denies the transaction.
var ErrVetoed = errors.New("trade vetoed by pre-trade hook")

// Store is the record mutation seam the transaction chain writes through.
// Implemented by the persistence layer; a host adapter would implement it
// against the host's document API instead.
type Store interface {
	Actor(ctx context.Context, id string) (*actor.Actor, error)
	ApplyTrade(ctx context.Context, entry *LedgerEntry, updates []ActorUpdate) error
}

// ActorUpdate is the diff applied to one actor's records in a trade.
type ActorUpdate struct {
	ActorID         string             `json:"actorId"`
	AttributeDeltas map[string]float64 `json:"attributeDeltas,omitempty"`
	ItemDeltas      []ItemDelta        `json:"itemDeltas,omitempty"`
}

// ItemDelta adjusts the quantity of one item, creating it when the actor
// doesn't hold it yet.
type ItemDelta struct {
	Item  actor.Item `json:"item"`
	Delta int        `json:"delta"`
}

// LedgerEntry is the persisted record of one executed (or refused) trade.
type LedgerEntry struct {
	ID            string    `json:"id"`
	InteractionID string    `json:"interactionId,omitempty"`
	UserID        string    `json:"userId,omitempty"`
	SellerID      string    `json:"sellerId"`
	BuyerID       string    `json:"buyerId"`
	TotalCost     float64   `json:"totalCost"`
	CanBuy        bool      `json:"canBuy"`
	CreatedAt     time.Time `json:"createdAt"`
	Result        Result    `json:"result"`
}

// TradeContext carries everything a transaction needs explicitly: no ambient
// globals, no module-wide registries.
type TradeContext struct {
	UserID   string
	Store    Store
	Hooks    *Bus
	Defaults []currency.Currency
	Rand     *rand.Rand
}

// Execute runs the full transaction chain: load snapshots, settle, pre-check
// hooks, apply record diffs, notify. Each step completes before the next; a
// hook veto aborts before any mutation. An infeasible settlement returns the
// ledger entry with CanBuy=false and mutates nothing.
//
// Callers must serialize concurrent trades against the same buyer/seller
// pair; settlement reads live actor state with no snapshot isolation.
func Execute(ctx context.Context, tc TradeContext, basket []Line, sellerID, buyerID string) (*LedgerEntry, error) {
	seller, err := tc.Store.Actor(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("load seller %s: %w", sellerID, err)
	}
	buyer, err := tc.Store.Actor(ctx, buyerID)
	if err != nil {
		return nil, fmt.Errorf("load buyer %s: %w", buyerID, err)
	}

	res, err := Settle(basket, pricing.Request{
		Seller:   seller,
		Buyer:    buyer,
		Defaults: tc.Defaults,
		Rand:     tc.Rand,
	})
	if err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}

	entry := &LedgerEntry{
		ID:            uuid.NewString(),
		InteractionID: uuid.NewString(),
		UserID:        tc.UserID,
		SellerID:      sellerID,
		BuyerID:       buyerID,
		TotalCost:     res.TotalCurrencyCost,
		CanBuy:        res.CanBuy,
		CreatedAt:     time.Now().UTC(),
		Result:        res,
	}

	if !res.CanBuy {
		slog.Info("trade refused", "seller", sellerID, "buyer", buyerID, "total", res.TotalCurrencyCost)
		return entry, nil
	}

	event := Event{
		Name:          EventPreTrade,
		UserID:        tc.UserID,
		InteractionID: entry.InteractionID,
		SellerID:      sellerID,
		BuyerID:       buyerID,
		Basket:        basket,
		Result:        &res,
	}
	if !tc.Hooks.call(ctx, event) {
		return nil, ErrVetoed
	}

	updates := tradeDiff(res, seller, buyer)
	if err := tc.Store.ApplyTrade(ctx, entry, updates); err != nil {
		return nil, fmt.Errorf("apply trade: %w", err)
	}

	slog.Info("trade committed",
		"id", entry.ID,
		"seller", sellerID,
		"buyer", buyerID,
		"total", res.TotalCurrencyCost,
		"items", len(res.BuyerReceive),
	)

	event.Name = EventTrade
	tc.Hooks.emit(ctx, event)

	return entry, nil
}

// tradeDiff turns a settlement into per-actor record diffs: the buyer pays
// out FinalPrices and receives change and items, the seller receives the
// rebalanced receipts and gives up the items.
func tradeDiff(res Result, seller, buyer *actor.Actor) []ActorUpdate {
	buyerUpd := newUpdate(buyer.ID)
	sellerUpd := newUpdate(seller.ID)

	for _, e := range res.FinalPrices {
		applyEntryDelta(&buyerUpd, e, -e.Quantity)
	}
	for _, e := range res.BuyerChange {
		applyEntryDelta(&buyerUpd, e, e.Quantity)
		// Change not folded into the rebalanced receipts comes out of the
		// seller's existing till; without this debit the seller keeps both
		// the till and the full payment.
		if paid := math.Min(actor.Holding(seller, e.Backing), e.Quantity); paid > 0 {
			applyEntryDelta(&sellerUpd, e, -paid)
		}
	}
	for _, e := range res.SellerReceive {
		applyEntryDelta(&sellerUpd, e, e.Quantity)
	}

	for _, r := range res.BuyerReceive {
		it := actor.Item{ID: r.ItemID, Name: r.Name, Img: r.Img}
		if src := seller.ItemByID(r.ItemID); src != nil {
			it = *src
		}
		sellerUpd.ItemDeltas = append(sellerUpd.ItemDeltas, ItemDelta{Item: it, Delta: -r.Quantity})
		buyerUpd.ItemDeltas = append(buyerUpd.ItemDeltas, ItemDelta{Item: it, Delta: r.Quantity})
	}

	return []ActorUpdate{buyerUpd, sellerUpd}
}

func newUpdate(actorID string) ActorUpdate {
	return ActorUpdate{ActorID: actorID, AttributeDeltas: make(map[string]float64)}
}

func applyEntryDelta(upd *ActorUpdate, e pricing.Entry, delta float64) {
	if delta == 0 {
		return
	}
	switch b := e.Backing.(type) {
	case currency.AttributeBacking:
		upd.AttributeDeltas[b.Path] += delta
	case currency.ItemBacking:
		upd.ItemDeltas = append(upd.ItemDeltas, ItemDelta{
			Item:  actor.Item{Name: b.Name, Img: b.Img, Type: b.Type},
			Delta: int(delta),
		})
	}
}
