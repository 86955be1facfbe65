package orders

type Status string

const (
	StatusPending   Status = "Pending"
	StatusPaid      Status = "Paid"
	StatusCancelled Status = "Cancelled"
	StatusShipping  Status = "Shipping"
)

// Bank statuses reported by the payment gateway.
const (
	BankSuccess = "Success"
	BankFailed  = "Failed"
	BankCancel  = "Cancel"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPending: true, StatusPaid: true, StatusCancelled: true},
	StatusPaid:      {StatusShipping: true},
	StatusShipping:  {},
	StatusCancelled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// targetFor maps a terminal bank status to the order status it drives.
func targetFor(bankStatus string) (Status, bool) {
	switch bankStatus {
	case BankSuccess:
		return StatusPaid, true
	case BankFailed:
		return StatusPending, true
	case BankCancel:
		return StatusCancelled, true
	default:
		return "", false
	}
}

// IsTerminal reports whether the bank status is one the workflow acts on.
func IsTerminal(bankStatus string) bool {
	_, ok := targetFor(bankStatus)
	return ok
}
