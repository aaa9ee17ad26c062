// Command rezyncdemo drives a minimal rezync.Store end to end: register a
// table and a mutator, subscribe to a live query, apply a few optimistic
// mutations, and print each notification as it arrives.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/kasuganosora/rezync/pkg/btree"
	"github.com/kasuganosora/rezync/pkg/config"
	"github.com/kasuganosora/rezync/pkg/ivm"
	"github.com/kasuganosora/rezync/pkg/query"
	"github.com/kasuganosora/rezync/pkg/rezync"
	zsync "github.com/kasuganosora/rezync/pkg/sync"
)

type todo struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

func putTodo(tx *zsync.Transaction, args json.RawMessage) error {
	var t todo
	if err := json.Unmarshal(args, &t); err != nil {
		return err
	}
	row, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return tx.Put("todos", t.ID, row)
}

func completeTodo(tx *zsync.Transaction, args json.RawMessage) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return err
	}
	row, ok, err := tx.Get("todos", req.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("completeTodo: no such todo %q", req.ID)
	}
	var t todo
	if err := json.Unmarshal(row, &t); err != nil {
		return err
	}
	t.Done = true
	newRow, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return tx.Put("todos", t.ID, newRow)
}

func todoPrimaryKey(row json.RawMessage) (string, error) {
	var t todo
	if err := json.Unmarshal(row, &t); err != nil {
		return "", err
	}
	return t.ID, nil
}

// offlinePusher never succeeds; the demo never confirms a push, so every
// mutation stays optimistic, which is enough to exercise the local write
// path and the subscription/materialization layers without a server.
type offlinePusher struct{}

func (offlinePusher) Push(ctx context.Context, req zsync.PushRequest) (zsync.PushResponse, error) {
	return zsync.PushResponse{}, fmt.Errorf("rezyncdemo: no server configured")
}

func main() {
	cfg := config.DefaultConfig()
	cfg.Sync.ClientID = "demo-client"

	mutators := map[string]zsync.Mutator{
		"putTodo":      putTodo,
		"completeTodo": completeTodo,
	}

	store, err := rezync.New(cfg, mutators, offlinePusher{})
	if err != nil {
		log.Fatalf("rezyncdemo: open store: %v", err)
	}
	defer store.Close()

	store.RegisterSource("todos", "/id", nil)

	ctx := context.Background()
	keyFn := func(n ivm.Node) string {
		key, _ := todoPrimaryKey(n.Row)
		return key
	}

	ast := query.Scan("todos")
	mat, cancel, err := store.Materialize(ctx, ast, keyFn, nil)
	if err != nil {
		log.Fatalf("rezyncdemo: materialize: %v", err)
	}
	defer cancel()

	mat.AddListener(func(changes []ivm.Change) {
		for _, c := range changes {
			fmt.Printf("view change: %s %s\n", c.Kind, string(c.Node.Row))
		}
	})

	_, sub, err := store.Subscribe(func(tx *query.Tx) (any, error) {
		cursor, err := tx.Scan(btree.ScanOptions{Prefix: []byte("e/todos/")})
		if err != nil {
			return nil, err
		}
		var rows []string
		for cursor.Next() {
			rows = append(rows, string(cursor.Value()))
		}
		return rows, nil
	}, query.SubscribeOptions{
		OnData: func(v any) { fmt.Printf("subscription result: %v\n", v) },
	})
	if err != nil {
		log.Fatalf("rezyncdemo: subscribe: %v", err)
	}
	defer sub()

	args1, _ := json.Marshal(todo{ID: "1", Text: "write the spec"})
	if _, clientPromise, _, err := store.Mutate(ctx, "putTodo", args1); err != nil {
		log.Fatalf("rezyncdemo: mutate: %v", err)
	} else if res, _ := clientPromise.Wait(ctx); res.Err != nil {
		log.Fatalf("rezyncdemo: putTodo rejected: %v", res.Err)
	}

	args2, _ := json.Marshal(map[string]string{"id": "1"})
	if _, clientPromise, _, err := store.Mutate(ctx, "completeTodo", args2); err != nil {
		log.Fatalf("rezyncdemo: mutate: %v", err)
	} else if res, _ := clientPromise.Wait(ctx); res.Err != nil {
		log.Fatalf("rezyncdemo: completeTodo rejected: %v", res.Err)
	}

	fmt.Printf("materialized rows: %d\n", len(mat.Rows()))
}
