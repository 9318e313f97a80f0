package identity

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgard/bizcircle/internal/database"
	"github.com/edgard/bizcircle/internal/knowledge"
	"github.com/edgard/bizcircle/internal/logger"
)

type fakeLookup struct {
	users map[int64]*database.User
	fail  map[int64]bool
	calls map[int64]int
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		users: map[int64]*database.User{
			42: {ID: 42, PhoneNumber: "+15550042", Name: sql.NullString{String: "Alice", Valid: true}},
			7:  {ID: 7, PhoneNumber: "+15550007"},
			9:  {ID: 9, PhoneNumber: "+15550009", Name: sql.NullString{String: "Bob", Valid: true}},
		},
		fail:  map[int64]bool{},
		calls: map[int64]int{},
	}
}

func (f *fakeLookup) GetUserByID(_ context.Context, id int64) (*database.User, error) {
	f.calls[id]++
	if f.fail[id] {
		return nil, errors.New("lookup failed")
	}
	return f.users[id], nil
}

func decode(t *testing.T, raw string) *knowledge.Document {
	t.Helper()
	doc, err := knowledge.Decode([]byte(raw))
	require.NoError(t, err)
	return doc
}

func encode(t *testing.T, doc *knowledge.Document) string {
	t.Helper()
	out, err := doc.Encode()
	require.NoError(t, err)
	return string(out)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	t.Run("rewrites known users in every section", func(t *testing.T) {
		t.Parallel()
		doc := decode(t, `{"Food and Beverage":{"Joe's Bakery":{
			"BusinessInfo":{"phone":"555-0100"},
			"Recommendations":{
				"Positive":{"2024-01-01T10:00:00.000Z: 42":"Great croissants","2024-01-01T11:00:00.000Z: 99":"Nice"},
				"Negative":{"2024-01-02T09:00:00.000Z: 7":"Too sweet"}},
			"Suggestions":{"2024-01-03T09:00:00.000Z: 42":"Try Joe's"}}}}`)

		resolver := NewResolver(newFakeLookup(), logger.Discard())
		resolver.Resolve(context.Background(), doc)

		assert.Equal(t,
			`{"Food and Beverage":{"Joe's Bakery":{"BusinessInfo":{"phone":"555-0100"},"Recommendations":{"Positive":{`+
				`"2024-01-01T10:00:00.000Z: Alice (+15550042)":"Great croissants",`+
				`"2024-01-01T11:00:00.000Z: 99":"Nice"},`+
				`"Negative":{"2024-01-02T09:00:00.000Z: +15550007":"Too sweet"}},`+
				`"Suggestions":{"2024-01-03T09:00:00.000Z: Alice (+15550042)":"Try Joe's"}}}}`,
			encode(t, doc))
	})

	t.Run("unparseable keys and failed lookups are kept", func(t *testing.T) {
		t.Parallel()
		lookup := newFakeLookup()
		lookup.fail[9] = true
		doc := decode(t, `{"Misc":{"Shop":{"Suggestions":{
			"no separator":"a",
			"2024-01-01T10:00:00.000Z: someone":"b",
			"2024-01-01T10:00:00.000Z: 9":"c"}}}}`)

		NewResolver(lookup, logger.Discard()).Resolve(context.Background(), doc)

		record, ok := doc.Business("Misc", "Shop")
		require.True(t, ok)
		assert.Equal(t,
			[]string{"no separator", "2024-01-01T10:00:00.000Z: someone", "2024-01-01T10:00:00.000Z: 9"},
			record.Suggestions.Keys())
	})

	t.Run("looks each user up once", func(t *testing.T) {
		t.Parallel()
		lookup := newFakeLookup()
		doc := decode(t, `{"A":{"X":{"Suggestions":{"t1: 42":"a","t2: 42":"b"}},"Y":{"Suggestions":{"t3: 42":"c"}}}}`)

		NewResolver(lookup, logger.Discard()).Resolve(context.Background(), doc)
		assert.Equal(t, 1, lookup.calls[42])
	})

	t.Run("colliding rewrite keeps the original key", func(t *testing.T) {
		t.Parallel()
		doc := decode(t, `{"A":{"X":{"Suggestions":{
			"t1: Alice (+15550042)":"already resolved",
			"t1: 42":"raw"}}}}`)

		NewResolver(newFakeLookup(), logger.Discard()).Resolve(context.Background(), doc)

		record, _ := doc.Business("A", "X")
		assert.Equal(t, []string{"t1: Alice (+15550042)", "t1: 42"}, record.Suggestions.Keys())
		text, _ := record.Suggestions.Get("t1: 42")
		assert.Equal(t, "raw", text)
	})

	t.Run("nil document", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, NewResolver(newFakeLookup(), logger.Discard()).Resolve(context.Background(), nil))
	})
}

func TestResolveIsKeyOnly(t *testing.T) {
	t.Parallel()

	raw := `{"Food and Beverage":{"Joe's Bakery":{
		"BusinessInfo":{"phone":"555-0100","Site":"joes.example"},
		"Recommendations":{"Positive":{"t1: 42":"a","t2: 7":"b","t3: 9":"c"},"Negative":{"t4: 100":"d"}},
		"Suggestions":{"t5: 42":"e"}}},
		"Home Services":{"Fixit":{"Suggestions":{"t6: 9":"f"}}}}`
	before := decode(t, raw)
	after := decode(t, raw)

	NewResolver(newFakeLookup(), logger.Discard()).Resolve(context.Background(), after)

	assert.Equal(t, before.CategoryNames(), after.CategoryNames())
	assert.Equal(t, before.BusinessCount(), after.BusinessCount())
	before.Walk(func(category, business string, want *knowledge.BusinessRecord) bool {
		got, ok := after.Business(category, business)
		require.True(t, ok)
		assert.Equal(t, want.BusinessInfo.Keys(), got.BusinessInfo.Keys())
		wantSections, gotSections := want.EntrySections(), got.EntrySections()
		for i := range wantSections {
			require.Equal(t, wantSections[i].Len(), gotSections[i].Len())
			var wantTexts, gotTexts []string
			for _, v := range wantSections[i].All() {
				wantTexts = append(wantTexts, v)
			}
			for _, v := range gotSections[i].All() {
				gotTexts = append(gotTexts, v)
			}
			assert.Equal(t, wantTexts, gotTexts)
		}
		return true
	})
}

func TestDisplayLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Alice (+1)", DisplayLabel(&database.User{PhoneNumber: "+1", Name: sql.NullString{String: "Alice", Valid: true}}))
	assert.Equal(t, "+1", DisplayLabel(&database.User{PhoneNumber: "+1", Name: sql.NullString{String: "  ", Valid: true}}))
	assert.Equal(t, "+1", DisplayLabel(&database.User{PhoneNumber: "+1"}))
}
