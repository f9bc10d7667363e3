package livestore_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/mevdash/internal/domain"
	"github.com/alejandrodnm/mevdash/internal/livestore"
)

func keyOfTx(t *domain.TxSummary) string { return t.Key() }

func TestBuildIndex_ReturnsPrevWhenUnchanged(t *testing.T) {
	rows := []*domain.TxSummary{tx(1, 1), tx(2, 2)}
	first, reused := livestore.BuildIndex(nil, rows, keyOfTx)
	require.Len(t, first, 2)
	assert.Zero(t, reused)

	second, reused := livestore.BuildIndex(first, rows, keyOfTx)
	assert.Equal(t, 2, reused)
	assert.Equal(t, reflect.ValueOf(first).Pointer(), reflect.ValueOf(second).Pointer(), "mismo mapa")
}

func TestBuildIndex_InsertsAndDrops(t *testing.T) {
	a, b, c := tx(1, 1), tx(2, 2), tx(3, 3)
	prev, _ := livestore.BuildIndex(nil, []*domain.TxSummary{a, b}, keyOfTx)

	next, reused := livestore.BuildIndex(prev, []*domain.TxSummary{b, c}, keyOfTx)
	assert.Equal(t, 1, reused)
	assert.Len(t, next, 2)
	assert.Same(t, b, next[b.Hash])
	assert.Same(t, c, next[c.Hash])
	_, ok := next[a.Hash]
	assert.False(t, ok)
	assert.Len(t, prev, 2, "prev no se modifica")
}

func TestBuildIndex_ReplacedReference(t *testing.T) {
	a := tx(1, 1)
	prev, _ := livestore.BuildIndex(nil, []*domain.TxSummary{a}, keyOfTx)

	fresh := tx(1, 1)
	next, reused := livestore.BuildIndex(prev, []*domain.TxSummary{fresh}, keyOfTx)
	assert.Zero(t, reused)
	assert.Same(t, fresh, next[a.Hash])
}

func TestIndex_VersionOnlyOnChange(t *testing.T) {
	ix := livestore.NewIndex(keyOfTx)
	rows := []*domain.TxSummary{tx(1, 1)}

	assert.True(t, ix.Refresh(rows))
	v := ix.Version()
	assert.False(t, ix.Refresh(rows))
	assert.Equal(t, v, ix.Version())

	assert.True(t, ix.Refresh(append(rows, tx(2, 2))))
	assert.Equal(t, v+1, ix.Version())
	assert.Equal(t, 2, ix.Len())

	got, ok := ix.Get(rows[0].Hash)
	require.True(t, ok)
	assert.Same(t, rows[0], got)
}
