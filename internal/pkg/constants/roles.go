package constants

// Participant roles issued by the auth service and carried in the session user.
const (
	Seller        = "seller"
	Buyer         = "buyer"
	Prosumer      = "prosumer"
	GovtAuthority = "govt_authority"
	MarketManager = "market_manager"
)

// ValidRoles is the set of roles the marketplace recognizes.
var ValidRoles = []string{Seller, Buyer, Prosumer, GovtAuthority, MarketManager}

// IsValidRole returns true if role is one of the recognized roles.
func IsValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
