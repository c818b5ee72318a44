package cache

import (
	"testing"
)

func TestKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{
			name: "string segments",
			key:  K("tasks", "list"),
			want: "tasks:list",
		},
		{
			name: "detail with string id",
			key:  K("tasks", "detail", "42"),
			want: "tasks:detail:42",
		},
		{
			name: "integer segment",
			key:  NewKey(Str("tasks"), Str("detail"), Int(42)),
			want: "tasks:detail:#42",
		},
		{
			name: "params sorted",
			key:  K("tasks", "list").Append(Params(map[string]string{"status": "pending", "owner": "ana"})),
			want: "tasks:list:{owner=ana&status=pending}",
		},
		{
			name: "separator escaped",
			key:  K("tasks", "search", "a:b c"),
			want: "tasks:search:a%3Ab+c",
		},
		{
			name: "string that looks like an int",
			key:  K("tasks", "#42"),
			want: "tasks:%2342",
		},
		{
			name: "empty search",
			key:  K("tasks", "search", ""),
			want: `tasks:search:""`,
		},
		{
			name: "literal quotes",
			key:  K(`""`),
			want: "%22%22",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("Key.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseKey_RoundTrip(t *testing.T) {
	keys := []Key{
		K("tasks"),
		K("tasks", "detail", "42"),
		NewKey(Str("tasks"), Int(-7)),
		K("tasks", "list").Append(Params(map[string]string{"status": "in progress", "q": "a&b=c"})),
		K("tasks", "search", "milk: 2l"),
		K("tasks", "list").Append(Params(nil)),
		K(""),
		K("", ""),
		K("tasks", "search", ""),
		K(`""`),
	}

	for _, key := range keys {
		t.Run(key.String(), func(t *testing.T) {
			parsed, err := ParseKey(key.String())
			if err != nil {
				t.Fatalf("ParseKey() error = %v", err)
			}
			if !parsed.Equal(key) {
				t.Errorf("ParseKey(%q) = %q, want equal key", key.String(), parsed.String())
			}
		})
	}
}

func TestKey_StringDistinguishesEmptySegments(t *testing.T) {
	keys := []Key{{}, K(""), K("", ""), K(`""`), K("tasks"), K("tasks", "")}

	seen := make(map[string]Key)
	for _, k := range keys {
		s := k.String()
		if prev, dup := seen[s]; dup {
			t.Errorf("keys with %d and %d segments both encode to %q", prev.Len(), k.Len(), s)
		}
		seen[s] = k
	}

	parsed, err := ParseKey(K("").String())
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	if parsed.IsZero() || !parsed.Equal(K("")) {
		t.Errorf("ParseKey(%q) = %d segments, want one empty segment", K("").String(), parsed.Len())
	}
}

func TestParseKey_Invalid(t *testing.T) {
	if _, err := ParseKey("tasks:#x"); err == nil {
		t.Error("ParseKey should reject a malformed int segment")
	}
}

func TestKey_HasPrefix(t *testing.T) {
	list := K("tasks", "list")
	filtered := list.Append(Params(map[string]string{"status": "pending"}))

	tests := []struct {
		name   string
		key    Key
		prefix Key
		want   bool
	}{
		{"self", list, list, true},
		{"child", filtered, list, true},
		{"root", filtered, K("tasks"), true},
		{"empty prefix", list, Key{}, true},
		{"sibling", K("tasks", "detail", "1"), list, false},
		{"longer prefix", list, filtered, false},
		{"int vs string", NewKey(Str("tasks"), Int(1)), K("tasks", "1"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.HasPrefix(tt.prefix); got != tt.want {
				t.Errorf("HasPrefix() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestKey_Determinism ensures equal params produce the same key
func TestKey_Determinism(t *testing.T) {
	a := K("tasks", "list").Append(Params(map[string]string{"a": "1", "b": "2", "c": "3"}))
	b := K("tasks", "list").Append(Params(map[string]string{"c": "3", "a": "1", "b": "2"}))

	if a.String() != b.String() {
		t.Errorf("keys differ: %v vs %v", a, b)
	}
	if !a.Equal(b) {
		t.Error("Equal() = false for identical params")
	}
}

func TestPredicates(t *testing.T) {
	list := K("tasks", "list")
	detail := K("tasks", "detail", "7")

	if !MatchPrefix(K("tasks"))(detail) {
		t.Error("MatchPrefix(tasks) should match the detail key")
	}
	if MatchPrefix(list)(detail) {
		t.Error("MatchPrefix(list) should not match the detail key")
	}
	if !MatchExact(list, detail)(detail) {
		t.Error("MatchExact should match a listed key")
	}
	if MatchExact(list)(list.Append(Str("x"))) {
		t.Error("MatchExact should not match a child key")
	}
	if !MatchAll()(Key{}) {
		t.Error("MatchAll should match everything")
	}
}
