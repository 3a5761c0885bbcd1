package commands

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/tillsync/tillsync"
	"github.com/tillsync/tillsync/connectivity"
	"github.com/tillsync/tillsync/devserver"
	"github.com/tillsync/tillsync/entity"
	"github.com/tillsync/tillsync/logging"
	"github.com/tillsync/tillsync/storage/memory"
	"github.com/tillsync/tillsync/transport/httptransport"
)

// RunDemo walks the offline-sale scenario end to end against an embedded dev
// server: a sale recorded while offline, queued, then replayed and confirmed
// after the connection returns.
func RunDemo(ctx context.Context) error {
	logging.Init(logging.Config{Level: "info", Format: "text", Environment: "dev"})

	remote := devserver.New()
	server := httptest.NewServer(remote.Handler())
	defer server.Close()

	monitor := connectivity.NewMonitor(connectivity.Options{InitiallyOnline: false})
	defer monitor.Close()

	engine, err := tillsync.New(
		memory.NewCache(),
		memory.NewOutbox(),
		httptransport.NewClient(server.URL, httptransport.WithHTTPClient(http.DefaultClient)),
		monitor,
		nil,
	)
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Println("till is offline; recording a sale")
	sale, err := engine.Create(ctx, &entity.Transaction{
		ScopeID: "demo-store",
		Lines:   []entity.Line{{ProductID: "srv-espresso", Name: "Espresso", Qty: 2, UnitPrice: 250}},
		Total:   500,
		PaidAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("sale cached under temporary id %s\n", sale.EntityID())

	pending, err := engine.PendingCount(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("pending mutations: %d\n", pending)

	fmt.Println("connection restored; replaying")
	monitor.SetOnline(true)

	deadline := time.Now().Add(10 * time.Second)
	for {
		pending, err = engine.PendingCount(ctx)
		if err != nil {
			return err
		}
		if pending == 0 {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("replay did not finish, %d mutations still pending", pending)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cached, err := engine.Cached(ctx, entity.KindTransaction, "demo-store")
	if err != nil {
		return err
	}
	for _, e := range cached {
		fmt.Printf("sale confirmed under server id %s\n", e.EntityID())
	}
	fmt.Println("outbox drained; local cache matches the remote")
	return nil
}
