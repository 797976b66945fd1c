package domain

type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPaid      OrderStatus = "PAID"
	StatusConfirmed OrderStatus = "CONFIRMED"
	StatusShipped   OrderStatus = "SHIPPED"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCancelled OrderStatus = "CANCELLED"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	StatusPending:   {StatusPaid: true, StatusConfirmed: true, StatusCancelled: true},
	StatusPaid:      {StatusConfirmed: true},
	StatusConfirmed: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func (s OrderStatus) IsValid() bool {
	_, ok := validNext[s]
	return ok
}

func (s OrderStatus) IsTerminal() bool {
	return s.IsValid() && len(validNext[s]) == 0
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
// Admin overrides are decided elsewhere and do not consult this table.
func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}
