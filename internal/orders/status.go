package orders

type Status string

const (
	StatusCreated        Status = "CREATED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusPaid           Status = "PAID"
	StatusFulfilling     Status = "FULFILLING"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
	StatusCancelled      Status = "CANCELLED"
)

// Transitions are one-way. PAYMENT_FAILED may still reach PAID when a later
// attempt for the same order succeeds.
var validNext = map[Status]map[Status]bool{
	StatusCreated:        {StatusPaymentPending: true, StatusCancelled: true},
	StatusPaymentPending: {StatusPaid: true, StatusPaymentFailed: true},
	StatusPaymentFailed:  {StatusPaid: true, StatusCancelled: true},
	StatusPaid:           {StatusFulfilling: true},
	StatusFulfilling:     {},
	StatusCancelled:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Settled reports whether payment processing is over for the order.
func (s Status) Settled() bool {
	return s == StatusPaid || s == StatusFulfilling || s == StatusCancelled
}
