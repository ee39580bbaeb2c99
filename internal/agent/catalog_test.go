package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLookupNormalizesKeys(t *testing.T) {
	catalog := NewCatalog()

	got, ok := catalog.Get("  Finance ")
	require.True(t, ok)
	assert.Equal(t, "finance", got.Key)

	_, ok = catalog.Get("time-travel")
	assert.False(t, ok)
}

func TestCatalogFreeKeysExcludePremium(t *testing.T) {
	catalog := NewCatalog()

	free := catalog.FreeKeys()
	assert.Contains(t, free, "crm")
	assert.Contains(t, free, "analytics")
	assert.NotContains(t, free, "erpnext")
	assert.NotContains(t, free, "fingpt")
	assert.NotContains(t, free, "finrobot")
}

func TestCatalogDropsDuplicateKeys(t *testing.T) {
	catalog := newCatalog([]Agent{
		{Key: "CRM", Name: "first"},
		{Key: "crm", Name: "second"},
	})

	got, ok := catalog.Get("crm")
	require.True(t, ok)
	assert.Equal(t, "first", got.Name)
	assert.Len(t, catalog.List(), 1)
}
