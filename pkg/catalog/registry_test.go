package catalog

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedCatalogueLoads(t *testing.T) {
	runbooks, err := Load()
	require.NoError(t, err, "every shipped runbook must validate")
	assert.NotEmpty(t, runbooks)
}

func TestRegistryLookup(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	reg, err := NewRegistry(log)
	require.NoError(t, err)

	rb, err := reg.Get("gke/cluster-autoscaler")
	require.NoError(t, err)
	assert.Equal(t, "gke", rb.Meta.Product)
	assert.NotEmpty(t, rb.Tree)

	_, err = reg.Get("gke/no-such-runbook")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown runbook")
}

func TestRegistryIsSorted(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	reg, err := NewRegistry(log)
	require.NoError(t, err)

	all := reg.All()
	require.Equal(t, reg.Count(), len(all))
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Meta.FullName(), all[i].Meta.FullName())
	}

	products := reg.Products()
	assert.Contains(t, products, "gke")
}
