package constants

import "quantumgrid-backend/internal/pkg/constants"

// PermissionRoles maps each permission to the roles allowed to perform it.
var PermissionRoles = map[string][]string{
	ViewData:         constants.ValidRoles,
	CreateListing:    {constants.Seller, constants.Prosumer},
	BuyEnergy:        {constants.Buyer, constants.Prosumer},
	ManagePriceBands: {constants.GovtAuthority, constants.MarketManager},
}

// AllowedRole returns true if role is in the list of allowed roles for the permission.
func AllowedRole(permission, role string) bool {
	roles, ok := PermissionRoles[permission]
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
