package constants

const (
	ViewData         = "view_data"
	CreateListing    = "create_listing"
	BuyEnergy        = "buy_energy"
	ManagePriceBands = "manage_price_bands"
)
