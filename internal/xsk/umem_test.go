//go:build linux

package xsk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateUMEMFallsBackToRegularPagesAndWarns(t *testing.T) {
	var warned string
	// A 3-byte request can never be satisfied by a huge-page mapping
	// (hugetlbfs only serves huge-page-aligned sizes), so this always
	// exercises the fallback path deterministically.
	data, err := allocateUMEM(3, func(msg string) { warned = msg })
	require.NoError(t, err)
	defer freeUMEM(data)

	assert.NotEmpty(t, warned)
	assert.Len(t, data, 3)
}

func TestAllocateUMEMNilWarnIsSafe(t *testing.T) {
	data, err := allocateUMEM(4096, nil)
	require.NoError(t, err)
	defer freeUMEM(data)
	assert.Len(t, data, 4096)
}

func TestFreeUMEMHandlesNil(t *testing.T) {
	assert.NoError(t, freeUMEM(nil))
}
