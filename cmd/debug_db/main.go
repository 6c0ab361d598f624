package main

import (
	"context"
	"fmt"
	"os"

	"github.com/vitos/crypto_trade_core/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_core/internal/trades"
)

func main() {
	dbPath := "trade_core.db"
	if len(os.Args) > 1 {
		dbPath = os.Args[1]
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	details, err := store.ListOrderDetails(ctx)
	if err != nil {
		fmt.Printf("Failed to list order details: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d saved orders:\n", len(details))
	for _, d := range details {
		fmt.Printf("- %s %s client=%s group=%s tag=%s active=%t",
			d.ExchangeOrderID, d.Symbol, d.ClientOrderID, d.GroupName, d.Tag, d.IsActive)
		if !d.IsActive {
			fmt.Printf(" trigger=%s above=%t", d.TriggerPrice, d.TriggerAbove)
		}
		fmt.Println()
	}

	history, err := store.ListTrades(ctx, 100)
	if err != nil {
		fmt.Printf("Failed to list trades: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nLast %d trades:\n", len(history))
	for _, t := range history {
		fmt.Printf("- %s %s %s %s @ %s (%s) closing=%t\n",
			t.ExecutedTime.Format("2006-01-02 15:04:05"), t.Symbol, t.Side,
			t.ExecutedQuantity, t.ExecutedPrice, t.Status, t.IsClosingOrder)
	}

	// history is newest first
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}
	pnl, err := trades.GetCompletedTradesPnL(history)
	if err != nil {
		fmt.Printf("⚠️ %v\n", err)
	}
	fmt.Printf("\nCompleted trades: %d\n", len(pnl))
	for _, p := range pnl {
		fmt.Printf("- %s %s qty=%s entry=%s close=%s pnl=%s (%s%%)\n",
			p.Symbol, p.Side, p.ClosedQuantity, p.EntryPrice, p.ClosePrice, p.RealizedPnL, p.RealizedPnLPercent)
	}
}
