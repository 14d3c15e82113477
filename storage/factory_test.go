// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"testing"
)

func newTestFactory() *Factory {
	f := NewFactory()
	f.RegisterAdapter("local", func(opts ProviderOpts) (Provider, error) {
		cfg, _ := opts.Config.(LocalConfig)
		p := NewLocalProvider(cfg)
		return p, p.Initialize(context.Background())
	})
	return f
}

func TestFactoryGetProviderCachesByFingerprint(t *testing.T) {
	f := newTestFactory()

	p1, err := f.GetProvider(ProviderOpts{Type: "local", Namespace: "a"})
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	p2, err := f.GetProvider(ProviderOpts{Type: "local", Namespace: "a"})
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if p1 != p2 {
		t.Fatal("GetProvider with identical opts returned distinct providers")
	}

	p3, err := f.GetProvider(ProviderOpts{Type: "local", Namespace: "b"})
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if p3 == p1 {
		t.Fatal("GetProvider with a different namespace returned the cached provider")
	}
}

func TestFactoryCreateProviderNeverCaches(t *testing.T) {
	f := newTestFactory()

	p1, err := f.CreateProvider(ProviderOpts{Type: "local"})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	p2, err := f.CreateProvider(ProviderOpts{Type: "local"})
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if p1 == p2 {
		t.Fatal("CreateProvider returned the same instance across two calls")
	}
}

func TestFactoryUnknownAdapterType(t *testing.T) {
	f := newTestFactory()
	if _, err := f.GetProvider(ProviderOpts{Type: "nonexistent"}); err == nil {
		t.Fatal("GetProvider with an unregistered type: expected error, got nil")
	}
}

func TestFactoryDefaultType(t *testing.T) {
	f := newTestFactory()
	if _, err := f.GetDefaultProvider(); err == nil {
		t.Fatal("GetDefaultProvider with no default set: expected error, got nil")
	}
	if err := f.SetDefaultType("local"); err != nil {
		t.Fatalf("SetDefaultType: %v", err)
	}
	if _, err := f.GetDefaultProvider(); err != nil {
		t.Fatalf("GetDefaultProvider: %v", err)
	}
	if err := f.SetDefaultType("nonexistent"); err == nil {
		t.Fatal("SetDefaultType to an unregistered adapter: expected error, got nil")
	}
}

func TestFactoryFailedInstantiationNotCached(t *testing.T) {
	f := NewFactory()
	attempts := 0
	f.RegisterAdapter("flaky", func(opts ProviderOpts) (Provider, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("first attempt fails")
		}
		p := NewLocalProvider(LocalConfig{})
		return p, p.Initialize(context.Background())
	})

	if _, err := f.GetProvider(ProviderOpts{Type: "flaky"}); err == nil {
		t.Fatal("first GetProvider call: expected error, got nil")
	}
	if _, err := f.GetProvider(ProviderOpts{Type: "flaky"}); err != nil {
		t.Fatalf("second GetProvider call: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("constructor called %d times, want 2 (failure must not be cached)", attempts)
	}
}

func TestFactoryDestroyClearsCache(t *testing.T) {
	f := newTestFactory()
	p1, err := f.GetProvider(ProviderOpts{Type: "local"})
	if err != nil {
		t.Fatalf("GetProvider: %v", err)
	}
	if err := f.Destroy(context.Background()); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	p2, err := f.GetProvider(ProviderOpts{Type: "local"})
	if err != nil {
		t.Fatalf("GetProvider after Destroy: %v", err)
	}
	if p1 == p2 {
		t.Fatal("GetProvider after Destroy returned a provider from the cleared cache")
	}
}

func TestRegisterBuiltinAdaptersCoversDocumentedTypes(t *testing.T) {
	f := NewFactory()
	RegisterBuiltinAdapters(f)

	for _, typ := range []string{"local", "memory", "redis", "postgres", "postgresql",
		"postgresql-vector", "sqlite", "sqlite-vec", "qdrant", "pinecone"} {
		if err := f.SetDefaultType(typ); err != nil {
			t.Errorf("adapter type %q not registered by RegisterBuiltinAdapters: %v", typ, err)
		}
	}
}
