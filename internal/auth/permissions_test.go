package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermDeviceRead, true},
		{RoleViewer, PermDeviceOperate, false},
		{RoleViewer, PermDiscoveryRun, false},
		{RoleController, PermDeviceRead, true},
		{RoleController, PermDeviceOperate, true},
		{RoleController, PermDiscoveryRun, true},
		{Role("owner"), PermDeviceRead, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleController)
	if len(perms) != 3 {
		t.Fatalf("controller has %d permissions, want 3", len(perms))
	}

	// Returned slice is a copy.
	perms[0] = "tampered"
	if !HasPermission(RoleController, PermDeviceRead) {
		t.Error("mutating the result changed the role table")
	}

	if PermissionsForRole(Role("unknown")) != nil {
		t.Error("unknown role should have no permissions")
	}
}

func TestIsValidRole(t *testing.T) {
	if !IsValidRole(RoleViewer) || !IsValidRole(RoleController) {
		t.Error("built-in roles should be valid")
	}
	if IsValidRole("") || IsValidRole("admin") {
		t.Error("unexpected role accepted")
	}
}
