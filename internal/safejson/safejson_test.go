package safejson

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next,omitempty"`
}

type base struct {
	ID   int    `json:"id"`
	Kind string `json:"kind"`
}

type order struct {
	base
	Kind     string            `json:"kind"`
	Items    []string          `json:"items"`
	Note     string            `json:"note,omitempty"`
	Secret   string            `json:"-"`
	Meta     map[string]string `json:"meta,omitempty"`
	internal int
}

type upper string

type chain struct {
	*chain
	X int
}

type kindInner struct {
	Kind string
}

type kindOuter struct {
	kindInner
	Kind string `json:",omitempty"`
}

type left struct{ Name string }
type right struct{ Name string }

type clash struct {
	left
	right
	ID int
}

type quoted struct {
	N int      `json:"n,string"`
	S string   `json:"s,string"`
	P *float64 `json:"p,string"`
	B bool     `json:"b,omitempty,string"`
	T upper    `json:"t,string"`
}

func (u upper) MarshalText() ([]byte, error) {
	return []byte("U:" + string(u)), nil
}

func TestMarshal(t *testing.T) {
	selfMap := map[string]interface{}{"a": 1}
	selfMap["self"] = selfMap

	selfSlice := []interface{}{"x", nil}
	selfSlice[1] = selfSlice

	selfNode := &node{Name: "a"}
	selfNode.Next = selfNode

	ring := &node{Name: "a", Next: &node{Name: "b"}}
	ring.Next.Next = ring

	shared := &node{Name: "shared"}

	selfChain := &chain{X: 1}
	selfChain.chain = selfChain

	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tt := []struct {
		Name     string
		Value    interface{}
		Expected string
	}{
		{"Map", map[string]interface{}{"id": 1}, `{"id":1}`},
		{"Nil", nil, `null`},
		{"SelfReferencingMap", selfMap, `{"a":1,"self":"[Circular]"}`},
		{"SelfReferencingSlice", selfSlice, `["x","[Circular]"]`},
		{"SelfReferencingPointer", selfNode, `{"name":"a","next":"[Circular]"}`},
		{"IndirectCycle", ring, `{"name":"a","next":{"name":"b","next":"[Circular]"}}`},
		{"SelfReferencingEmbedded", selfChain, `{"X":1}`},
		{"SharedIsNotACycle", []*node{shared, shared}, `[{"name":"shared"},{"name":"shared"}]`},
		{
			"StructTags",
			order{base: base{ID: 7, Kind: "inner"}, Kind: "outer", Items: []string{"a"}, Secret: "s", internal: 1},
			`{"kind":"outer","items":["a"],"id":7}`,
		},
		{"Marshaler", map[string]interface{}{"at": stamp}, `{"at":"2024-01-02T03:04:05Z"}`},
		{"TextMarshaler", []upper{"a"}, `["U:a"]`},
		{"StringKindKey", map[upper]int{"k": 1}, `{"k":1}`},
		{"IntKey", map[int]string{2: "b", 1: "a"}, `{"1":"a","2":"b"}`},
		{"Bytes", []byte("hi"), `"aGk="`},
		{"RawMessage", json.RawMessage(`{"raw":true}`), `{"raw":true}`},
		{"NilPointer", (*node)(nil), `null`},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			b, err := Marshal(tc.Value)
			require.NoError(t, err)
			assert.JSONEq(t, tc.Expected, string(b))
		})
	}
}

func TestMarshal_KeepsFieldOrder(t *testing.T) {
	b, err := Marshal(node{Name: "a", Next: &node{Name: "b"}})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"a","next":{"name":"b"}}`, string(b))
}

func TestMarshal_MatchesEncodingJSON(t *testing.T) {
	selfChain := &chain{X: 1}
	selfChain.chain = selfChain
	half := 1.5

	tt := []struct {
		Name  string
		Value interface{}
	}{
		{"Promotion", order{base: base{ID: 1}, Items: []string{"x", "y"}, Meta: map[string]string{"b": "2", "a": "1"}}},
		{"EmbeddedPointerToSelf", selfChain},
		{"NilEmbeddedPointer", chain{X: 2}},
		{"OmittedFieldStillHidesPromoted", kindOuter{kindInner: kindInner{Kind: "deep"}}},
		{"ConflictingPromotedNames", clash{left: left{Name: "l"}, right: right{Name: "r"}, ID: 1}},
		{"StringOption", quoted{N: 5, S: "x", P: &half, B: true, T: "t"}},
		{"StringOptionZero", quoted{}},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			expected, err := json.Marshal(tc.Value)
			require.NoError(t, err)

			actual, err := Marshal(tc.Value)
			require.NoError(t, err)
			assert.Equal(t, string(expected), string(actual))
		})
	}
}

func TestMarshal_UnsupportedType(t *testing.T) {
	_, err := Marshal(map[string]interface{}{"ch": make(chan int)})
	var uErr *json.UnsupportedTypeError
	assert.ErrorAs(t, err, &uErr)
}
