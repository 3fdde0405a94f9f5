package db

import (
	"strings"
	"testing"

	"pawsistant/internal/config"
)

func TestTableName(t *testing.T) {
	cases := map[string]string{
		"my_rag_index":        "rag_my_rag_index",
		"OGS Index v2":        "rag_ogs_index_v2",
		"../etc/passwd":       "rag_etc_passwd",
		"---":                 "rag_index",
		"indexes/2025-spring": "rag_indexes_2025_spring",
	}
	for in, want := range cases {
		if got := TableName(in); got != want {
			t.Fatalf("TableName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := TableName(strings.Repeat("x", 100)); len(got) != 63 {
		t.Fatalf("long name not truncated: %d", len(got))
	}
}

func TestConnectDBRequiresDSN(t *testing.T) {
	if _, err := ConnectDB(&config.DatabaseConfig{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestStoreQuotesTable(t *testing.T) {
	s := NewStore(nil, "rag_x")
	if s.quoted() != `"rag_x"` {
		t.Fatalf("quoted = %s", s.quoted())
	}
}
