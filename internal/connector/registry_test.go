package connector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nucleus/fluxion/internal/core"
)

type stubConnector struct {
	closed bool
}

func (s *stubConnector) Extract(context.Context, core.SourceLocation, core.DataKind, core.TimeRange) ([]core.RawRow, error) {
	return nil, nil
}

func (s *stubConnector) Count(context.Context, core.SourceLocation, core.DataKind, core.TimeRange) (int64, error) {
	return 0, nil
}

func (s *stubConnector) Close() error {
	s.closed = true
	return nil
}

func restLocation(id string) core.SourceLocation {
	return core.SourceLocation{
		ID: id,
		Connection: core.ConnectionDescriptor{
			Protocol: core.ProtocolREST,
			BaseURL:  "http://agg.local",
			Paths:    map[core.DataKind]string{core.KindSales: "/sales"},
		},
	}
}

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry()
	created := 0
	r.Register(core.ProtocolREST, func(core.ConnectionDescriptor, Credentials) (Connector, error) {
		created++
		return &stubConnector{}, nil
	})

	if _, err := r.Create(restLocation("S1").Connection, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created != 1 {
		t.Errorf("factory called %d times, want 1", created)
	}
	tabular := core.ConnectionDescriptor{Protocol: core.ProtocolTabular, Host: "pos-1", Database: "pos"}
	if _, err := r.Create(tabular, nil); err == nil {
		t.Error("expected error for unregistered protocol")
	}
	if got := r.Protocols(); len(got) != 1 || got[0] != core.ProtocolREST {
		t.Errorf("Protocols() = %v", got)
	}
}

func TestRegistryCreateValidatesDescriptor(t *testing.T) {
	tests := []struct {
		name string
		desc core.ConnectionDescriptor
		want string
	}{
		{"rest without base url", core.ConnectionDescriptor{Protocol: core.ProtocolREST, Paths: map[core.DataKind]string{core.KindSales: "/s"}}, "base_url"},
		{"rest without paths", core.ConnectionDescriptor{Protocol: core.ProtocolREST, BaseURL: "http://agg.local"}, "path"},
		{"tabular without host", core.ConnectionDescriptor{Protocol: core.ProtocolTabular, Database: "pos"}, "host"},
		{"tabular without database", core.ConnectionDescriptor{Protocol: core.ProtocolTabular, Host: "pos-1"}, "database"},
		{"unknown protocol", core.ConnectionDescriptor{Protocol: "ftp"}, "unknown protocol"},
	}

	r := NewRegistry()
	called := false
	factory := func(core.ConnectionDescriptor, Credentials) (Connector, error) {
		called = true
		return &stubConnector{}, nil
	}
	r.Register(core.ProtocolREST, factory)
	r.Register(core.ProtocolTabular, factory)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called = false
			_, err := r.Create(tt.desc, nil)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
			if called {
				t.Error("factory called for an invalid descriptor")
			}
		})
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	f := func(core.ConnectionDescriptor, Credentials) (Connector, error) { return nil, nil }
	r.Register(core.ProtocolREST, f)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r.Register(core.ProtocolREST, f)
}

func TestPoolCachesPerLocation(t *testing.T) {
	r := NewRegistry()
	var made []*stubConnector
	r.Register(core.ProtocolREST, func(core.ConnectionDescriptor, Credentials) (Connector, error) {
		c := &stubConnector{}
		made = append(made, c)
		return c, nil
	})
	pool := NewPool(r, nil)

	a1, err := pool.Get(restLocation("A"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	a2, _ := pool.Get(restLocation("A"))
	if a1 != a2 {
		t.Error("pool should return the cached connector")
	}
	if _, err := pool.Get(restLocation("B")); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(made) != 2 {
		t.Fatalf("created %d connectors, want 2", len(made))
	}

	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, c := range made {
		if !c.closed {
			t.Errorf("connector %d not closed", i)
		}
	}
}

func TestPoolRejectsInvalidDescriptor(t *testing.T) {
	pool := NewPool(NewRegistry(), nil)
	loc := core.SourceLocation{ID: "X", Connection: core.ConnectionDescriptor{Protocol: core.ProtocolREST}}
	if _, err := pool.Get(loc); err == nil {
		t.Error("expected validation error")
	}
}

func TestPoolFactoryError(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	r.Register(core.ProtocolREST, func(core.ConnectionDescriptor, Credentials) (Connector, error) {
		return nil, boom
	})
	if _, err := NewPool(r, nil).Get(restLocation("A")); !errors.Is(err, boom) {
		t.Errorf("Get error = %v, want wrapped boom", err)
	}
}
