package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPermissionFromGroups(t *testing.T) {
	tests := []struct {
		name   string
		groups []string
		want   PermissionLevel
	}{
		{"no groups defaults to client", nil, PermissionClient},
		{"unrecognized groups default to client", []string{"staff", "vpn-users"}, PermissionClient},
		{"admins", []string{"admins"}, PermissionAdmin},
		{"technicians", []string{"technicians"}, PermissionTechnician},
		{"billing", []string{"billing"}, PermissionBilling},
		{"highest wins", []string{"billing", "admins", "technicians"}, PermissionAdmin},
		{"mixed with unknown", []string{"vpn-users", "technicians"}, PermissionTechnician},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PermissionFromGroups(tt.groups))
		})
	}
}

func TestPermissionAtLeast(t *testing.T) {
	assert.True(t, PermissionAdmin.AtLeast(PermissionClient))
	assert.True(t, PermissionAdmin.AtLeast(PermissionAdmin))
	assert.True(t, PermissionTechnician.AtLeast(PermissionBilling))
	assert.False(t, PermissionBilling.AtLeast(PermissionTechnician))
	assert.False(t, PermissionClient.AtLeast(PermissionBilling))

	// Unknown levels rank below client.
	assert.False(t, PermissionLevel("superuser").AtLeast(PermissionClient))
}

func TestPermissionValid(t *testing.T) {
	assert.True(t, PermissionAdmin.Valid())
	assert.True(t, PermissionClient.Valid())
	assert.False(t, PermissionLevel("root").Valid())
}
