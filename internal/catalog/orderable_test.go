package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func ptr(v int64) *int64 { return &v }

func TestOrderableGlobalProduct(t *testing.T) {
	p := Product{IsGlobal: true, BranchID: ptr(1)}

	require.True(t, Orderable(p, ptr(2), nil))
	require.True(t, Orderable(p, nil, nil))
	require.True(t, Orderable(p, ptr(2), ptr(2)))
	require.False(t, Orderable(p, ptr(2), ptr(3)), "caller confined to branch 3 cannot order into branch 2")
}

func TestOrderableBranchProduct(t *testing.T) {
	p := Product{IsGlobal: false, BranchID: ptr(1)}

	require.True(t, Orderable(p, ptr(1), nil))
	require.False(t, Orderable(p, ptr(2), nil))
	require.False(t, Orderable(p, nil, nil), "branch product needs a resolved order branch")
}

func TestOrderableBranchProductWithoutHomeBranch(t *testing.T) {
	p := Product{IsGlobal: false}

	require.False(t, Orderable(p, ptr(1), nil))
}
