package oms

// ProductState is one code in a product's state history. The codes form a
// vocabulary, not a transition table: any authorized seller of the holding
// organization may append any of them.
type ProductState int

const (
	ProductUnhandled ProductState = iota
	ProductProduced
	ProductInTransit
	ProductInWarehouse
	ProductOnSale
	ProductSold
	ProductRemoved
	ProductUnlocked
	ProductWasCompromised
	ProductInService
	ProductWasFinished
	ProductWasDeny
	ProductWasGotByOwner
	ProductWasDestroyed
	ProductWasRestored
	ProductOwnerWasChanged
	ProductPriceWasChanged
	ProductRefused
	ProductGave
	ProductReceived
	ProductReturned
)

var productStateNames = map[ProductState]string{
	ProductUnhandled:       "Unhandled",
	ProductProduced:        "Produced",
	ProductInTransit:       "InTransit",
	ProductInWarehouse:     "InWarehouse",
	ProductOnSale:          "OnSale",
	ProductSold:            "Sold",
	ProductRemoved:         "Removed",
	ProductUnlocked:        "Unlocked",
	ProductWasCompromised:  "WasCompromised",
	ProductInService:       "InService",
	ProductWasFinished:     "WasFinished",
	ProductWasDeny:         "WasDeny",
	ProductWasGotByOwner:   "WasGotByOwner",
	ProductWasDestroyed:    "WasDestroyed",
	ProductWasRestored:     "WasRestored",
	ProductOwnerWasChanged: "OwnerWasChanged",
	ProductPriceWasChanged: "PriceWasChanged",
	ProductRefused:         "Refused",
	ProductGave:            "Gave",
	ProductReceived:        "Received",
	ProductReturned:        "Returned",
}

func (s ProductState) String() string {
	if name, ok := productStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// KnownProductState reports whether s is a defined product state code.
func KnownProductState(s ProductState) bool {
	_, ok := productStateNames[s]
	return ok
}

// OrderState is one code in an order's state history.
type OrderState int

const (
	OrderUnhandled OrderState = iota
	OrderInTransit
	OrderWasStopped
	OrderInWarehouse
	OrderWasFinished
	OrderWasDeny
	OrderRemoved
	OrderInService
)

var orderStateNames = map[OrderState]string{
	OrderUnhandled:   "Unhandled",
	OrderInTransit:   "InTransit",
	OrderWasStopped:  "WasStopped",
	OrderInWarehouse: "InWarehouse",
	OrderWasFinished: "WasFinished",
	OrderWasDeny:     "WasDeny",
	OrderRemoved:     "Removed",
	OrderInService:   "InService",
}

func (s OrderState) String() string {
	if name, ok := orderStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// KnownOrderState reports whether s is a defined order state code.
func KnownOrderState(s OrderState) bool {
	_, ok := orderStateNames[s]
	return ok
}
