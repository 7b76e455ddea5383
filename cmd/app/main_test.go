package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/tenantdb/internal/core/domain"
)

func TestMigrateRejectsInvalidTenantID(t *testing.T) {
	for _, raw := range []string{"0", "-4"} {
		t.Run(raw, func(t *testing.T) {
			dir := t.TempDir()
			err := rootCommand().Run(context.Background(), []string{
				"tenantdb", "--data-dir", dir, "migrate", "--tenant-id=" + raw,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
			assert.Contains(t, err.Error(), "--tenant-id "+raw)
		})
	}
}
