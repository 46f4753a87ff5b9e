package queryexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/docbase/internal/bsonkit"
)

func TestCompileEqualityLiteral(t *testing.T) {
	pred := bsonkit.NewDocument(bsonkit.F("a", bsonkit.Int32(5)))
	cq, err := Compile(pred)
	require.NoError(t, err)
	require.Nil(t, cq.Or)
	assert.Equal(t, Equality, cq.Pattern["a"])
	assert.True(t, cq.Bounds["a"].isEquality())
}

func TestCompileRangeOperators(t *testing.T) {
	pred := bsonkit.NewDocument(bsonkit.F("a", bsonkit.Doc(bsonkit.NewDocument(
		bsonkit.F("$gte", bsonkit.Int32(3)),
		bsonkit.F("$lt", bsonkit.Int32(10)),
	))))
	cq, err := Compile(pred)
	require.NoError(t, err)
	assert.Equal(t, UpperAndLowerBound, cq.Pattern["a"])
	b := cq.Bounds["a"]
	assert.Equal(t, int32(3), int32(must(b.Lower.AsNumber())))
	assert.True(t, b.LowerInclusive)
	assert.Equal(t, int32(10), int32(must(b.Upper.AsNumber())))
	assert.False(t, b.UpperInclusive)
}

func must(f float64, ok bool) float64 { return f }

func TestCompileIntersectsRepeatedField(t *testing.T) {
	pred := bsonkit.NewDocument(bsonkit.F("$and", bsonkit.Array([]bsonkit.Value{
		bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("a", bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("$gte", bsonkit.Int32(1))))))),
		bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("a", bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("$lte", bsonkit.Int32(5))))))),
	})))
	cq, err := Compile(pred)
	require.NoError(t, err)
	b := cq.Bounds["a"]
	assert.Equal(t, int32(1), int32(must(b.Lower.AsNumber())))
	assert.Equal(t, int32(5), int32(must(b.Upper.AsNumber())))
}

func TestCompileInTightestBracket(t *testing.T) {
	pred := bsonkit.NewDocument(bsonkit.F("a", bsonkit.Doc(bsonkit.NewDocument(
		bsonkit.F("$in", bsonkit.Array([]bsonkit.Value{bsonkit.Int32(5), bsonkit.Int32(1), bsonkit.Int32(3)})),
	))))
	cq, err := Compile(pred)
	require.NoError(t, err)
	b := cq.Bounds["a"]
	assert.Equal(t, int32(1), int32(must(b.Lower.AsNumber())))
	assert.Equal(t, int32(5), int32(must(b.Upper.AsNumber())))
	assert.Len(t, b.Extra, 3)
}

func TestCompileRegexLiteralPrefix(t *testing.T) {
	pred := bsonkit.NewDocument(bsonkit.F("name", bsonkit.Doc(bsonkit.NewDocument(
		bsonkit.F("$regex", bsonkit.String("^foo.*")),
	))))
	cq, err := Compile(pred)
	require.NoError(t, err)
	b := cq.Bounds["name"]
	lo, _ := b.Lower.AsString()
	hi, _ := b.Upper.AsString()
	assert.Equal(t, "foo", lo)
	assert.Equal(t, "fop", hi)
	assert.False(t, b.UpperInclusive)
}

func TestCompileTopLevelOr(t *testing.T) {
	pred := bsonkit.NewDocument(bsonkit.F("$or", bsonkit.Array([]bsonkit.Value{
		bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("a", bsonkit.Int32(1)))),
		bsonkit.Doc(bsonkit.NewDocument(bsonkit.F("b", bsonkit.Int32(2)))),
	})))
	cq, err := Compile(pred)
	require.NoError(t, err)
	require.Len(t, cq.Or, 2)
	assert.Equal(t, Equality, cq.Or[0].Pattern["a"])
	assert.Equal(t, Equality, cq.Or[1].Pattern["b"])
}

func TestSimplifiedQueryRebuildsRange(t *testing.T) {
	pred := bsonkit.NewDocument(bsonkit.F("a", bsonkit.Doc(bsonkit.NewDocument(
		bsonkit.F("$gte", bsonkit.Int32(3)),
		bsonkit.F("$lt", bsonkit.Int32(10)),
	))))
	cq, err := Compile(pred)
	require.NoError(t, err)

	simplified := SimplifiedQuery(cq.Bounds, nil)
	v, ok := simplified.Get("a")
	require.True(t, ok)
	doc, ok := v.AsDocument()
	require.True(t, ok)
	gte, ok := doc.Get("$gte")
	require.True(t, ok)
	assert.Equal(t, int32(3), int32(must(gte.AsNumber())))
}
