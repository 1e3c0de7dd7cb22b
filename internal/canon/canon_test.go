package canon

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeysAtEveryDepth(t *testing.T) {
	a := map[string]interface{}{
		"b": 1,
		"a": map[string]interface{}{"z": 1, "y": 2},
		"c": []interface{}{map[string]interface{}{"q": 1, "p": 2}},
	}
	out, err := Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":2,"z":1},"b":1,"c":[{"p":2,"q":1}]}`, string(out))
}

func TestMarshalIsOrderIndependent(t *testing.T) {
	v1 := map[string]interface{}{"a": 1, "b": 2}
	v2 := map[string]interface{}{"b": 2, "a": 1}

	out1, err := Marshal(v1)
	require.NoError(t, err)
	out2, err := Marshal(v2)
	require.NoError(t, err)
	assert.Equal(t, string(out1), string(out2))
}

func TestMarshalArrayOrderPreserved(t *testing.T) {
	v := []interface{}{3, 1, 2}
	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "[3,1,2]", string(out))
}

func TestMarshalStringEscaping(t *testing.T) {
	out, err := Marshal("a\"b\\c\nd")
	require.NoError(t, err)
	assert.Equal(t, `"a\"b\\c\nd"`, string(out))
}

func TestMarshalRejectsNonFiniteNumbers(t *testing.T) {
	_, err := Marshal(map[string]interface{}{"x": math.NaN()})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestMarshalRejectsCycles(t *testing.T) {
	m := map[string]interface{}{}
	m["self"] = m
	_, err := Marshal(m)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestMarshalStructsRoundTripThroughJSONTags(t *testing.T) {
	type inner struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	out, err := Marshal(inner{B: 2, A: 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}
