package shape

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeMaterializer struct {
	inserted map[string]json.RawMessage
	updated  map[string]json.RawMessage
	deleted  []string
	resets   int
}

func newFakeMaterializer() *fakeMaterializer {
	return &fakeMaterializer{inserted: map[string]json.RawMessage{}, updated: map[string]json.RawMessage{}}
}

func (f *fakeMaterializer) Insert(key string, value json.RawMessage) error {
	f.inserted[key] = value
	return nil
}
func (f *fakeMaterializer) Update(key string, value json.RawMessage) error {
	f.updated[key] = value
	return nil
}
func (f *fakeMaterializer) Delete(key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}
func (f *fakeMaterializer) Reset() error {
	f.resets++
	return nil
}

func TestPollAppliesInsertUpdateDelete(t *testing.T) {
	body := `{"headers":{"operation":"insert"},"key":"1","value":{"title":"a"}}
{"headers":{"operation":"update"},"key":"1","value":{"title":"b"}}
{"headers":{"operation":"delete"},"key":"2"}
{"headers":{"control":"up-to-date"}}
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("electric-handle", "h1")
		w.Header().Set("electric-offset", "42")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	mat := newFakeMaterializer()
	c := New(ShapeSpec{BaseURL: srv.URL, Table: "tasks"}, mat, nil)
	caughtUp, err := c.poll(context.Background())
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if !caughtUp {
		t.Fatal("expected caughtUp=true after up-to-date control")
	}
	if string(mat.updated["1"]) != `{"title":"b"}` {
		t.Fatalf("expected key 1 updated to b, got %s", mat.updated["1"])
	}
	if len(mat.deleted) != 1 || mat.deleted[0] != "2" {
		t.Fatalf("expected key 2 deleted, got %v", mat.deleted)
	}
	if c.state.Handle != "h1" || c.state.Offset != "42" {
		t.Fatalf("expected cursor advanced to h1/42, got %+v", c.state)
	}
}

func TestPollMustRefetchResetsState(t *testing.T) {
	body := `{"headers":{"control":"must-refetch"}}
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("electric-handle", "h2")
		w.Header().Set("electric-offset", "99")
		w.Write([]byte(body))
	}))
	defer srv.Close()

	mat := newFakeMaterializer()
	c := New(ShapeSpec{BaseURL: srv.URL, Table: "tasks"}, mat, nil)
	c.state = State{Handle: "stale", Offset: "7"}
	if _, err := c.poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if mat.resets != 1 {
		t.Fatalf("expected Reset called once, got %d", mat.resets)
	}
	if c.state.Offset != "-1" || c.state.Handle != "" {
		t.Fatalf("expected state reset to initial, got %+v", c.state)
	}
}

func TestPollUnknownOperationIsProtocolError(t *testing.T) {
	body := `{"headers":{"operation":"weird"},"key":"1","value":{}}
`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	mat := newFakeMaterializer()
	c := New(ShapeSpec{BaseURL: srv.URL, Table: "tasks"}, mat, nil)
	if _, err := c.poll(context.Background()); err == nil {
		t.Fatal("expected protocol error for unknown operation")
	}
}
